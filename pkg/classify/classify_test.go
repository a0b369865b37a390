package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

func ep(in, out []uint16) zbmodel.Endpoint {
	return zbmodel.Endpoint{InClusters: in, OutClusters: out}
}

func TestEndpointKindPrecedence(t *testing.T) {
	cases := []struct {
		name string
		ep   zbmodel.Endpoint
		want string
	}{
		{"color wins over onoff+level", ep([]uint16{0x0006, 0x0008, 0x0300}, nil), KindColorLight},
		{"dimmable light", ep([]uint16{0x0006, 0x0008}, nil), KindDimmableLight},
		{"relay", ep([]uint16{0x0006}, nil), KindRelay},
		{"dimmer switch", ep(nil, []uint16{0x0006, 0x0008}), KindDimmerSwitch},
		{"plain switch", ep(nil, []uint16{0x0006}), KindSwitch},
		{"temp+humidity combined", ep([]uint16{0x0402, 0x0405}, nil), KindTempHumiditySensor},
		{"temperature only", ep([]uint16{0x0402}, nil), KindTemperatureSensor},
		{"humidity only", ep([]uint16{0x0405}, nil), KindHumiditySensor},
		{"occupancy", ep([]uint16{0x0406}, nil), KindOccupancySensor},
		{"illuminance", ep([]uint16{0x0400}, nil), KindIlluminanceSensor},
		{"pressure", ep([]uint16{0x0403}, nil), KindPressureSensor},
		{"flow", ep([]uint16{0x0404}, nil), KindFlowSensor},
		{"unknown", ep([]uint16{0x0001}, nil), KindUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, EndpointKind(c.ep))
		})
	}
}

func TestAcceptsOnOffAndLevel(t *testing.T) {
	e := ep([]uint16{0x0006, 0x0008}, nil)
	accepts := Accepts(e)
	assert.Contains(t, accepts, "onoff.toggle")
	assert.Contains(t, accepts, "level.move_to_level")
	assert.NotContains(t, accepts, "color.move_to_hue")
}

func TestEmitsFromClientClusters(t *testing.T) {
	e := ep(nil, []uint16{0x0006})
	emits := Emits(e)
	assert.ElementsMatch(t, []string{"onoff.off", "onoff.on", "onoff.toggle"}, emits)
}

func TestReportsMapsClustersToStateKeys(t *testing.T) {
	e := ep([]uint16{0x0006, 0x0402, 0x0001}, nil)
	reports := Reports(e)
	assert.ElementsMatch(t, []string{"onoff", "temperature_c", "battery_pct"}, reports)
}

func TestEmptyEndpointIsUnknownWithNoVerbs(t *testing.T) {
	e := zbmodel.Endpoint{}
	assert.Equal(t, KindUnknown, EndpointKind(e))
	assert.Empty(t, Accepts(e))
	assert.Empty(t, Emits(e))
	assert.Empty(t, Reports(e))
}
