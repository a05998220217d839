package onesmart

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"room_temperature_zone1", KindTemperature},
		{"outdoor_temp", KindTemperature},
		{"valve_percentage", KindPercentage},
		{"heat_recovery_efficiency", KindPercentage},
		{"co2_level", KindCO2},
		{"l1_power_factor", KindPowerFactor},
		{"compressor_power", KindPower},
		{"l2_current", KindCurrent},
		{"l3_voltage", KindVoltage},
		{"grid_frequency", KindFrequency},
		{"pv_e_total", KindEnergyTotal},
		{"pv_e_day", KindEnergyDaily},
		{"fan_rpm", KindRPM},
		{"flow_rate_4graph", KindFlowRate},
		{"CO2_LEVEL", KindCO2},
		{"operating_mode", KindUnclassified},
		{"output_1", KindUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.name); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestSpecFor(t *testing.T) {
	tests := []struct {
		kind      Kind
		wantUnit  string
		wantClass string
	}{
		{KindTemperature, "°C", stateMeasurement},
		{KindEnergyTotal, "kWh", stateTotal},
		{KindEnergyDaily, "kWh", stateTotalIncreasing},
		{KindMeterPower, "W", stateMeasurement},
		{KindMeterEnergy, "Wh", stateTotal},
		{KindUnclassified, "", ""},
	}

	for _, tt := range tests {
		spec := SpecFor(tt.kind)
		if spec.Unit != tt.wantUnit || spec.StateClass != tt.wantClass {
			t.Errorf("SpecFor(%q) = %+v, want unit %q class %q", tt.kind, spec, tt.wantUnit, tt.wantClass)
		}
	}
}

func TestHasOnOffEnum(t *testing.T) {
	tests := []struct {
		enum []string
		want bool
	}{
		{[]string{"on", "off"}, true},
		{[]string{"OFF", "ON", "AUTO"}, true},
		{[]string{"on"}, false},
		{[]string{"eco", "normal"}, false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := hasOnOffEnum(tt.enum); got != tt.want {
			t.Errorf("hasOnOffEnum(%v) = %v, want %v", tt.enum, got, tt.want)
		}
	}
}

func TestIsLightOutput(t *testing.T) {
	lights := Device{ID: "12", Group: GroupLights}
	climate := Device{ID: "10", Group: GroupClimate}

	tests := []struct {
		name   string
		device Device
		attr   Attribute
		want   bool
	}{
		{"writable numeric output", lights, Attribute{Name: "output_1", Access: AccessReadWrite, Type: TypeNumber}, true},
		{"real output", lights, Attribute{Name: "output_2", Access: AccessWrite, Type: TypeReal}, true},
		{"read only", lights, Attribute{Name: "output_1", Access: AccessRead, Type: TypeNumber}, false},
		{"mode attribute", lights, Attribute{Name: FieldOutputMode, Access: AccessReadWrite, Type: TypeNumber}, false},
		{"string output", lights, Attribute{Name: "output_1", Access: AccessReadWrite, Type: TypeString}, false},
		{"other group", climate, Attribute{Name: "output_1", Access: AccessReadWrite, Type: TypeNumber}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isLightOutput(tt.device, tt.attr); got != tt.want {
				t.Errorf("isLightOutput() = %v, want %v", got, tt.want)
			}
		})
	}
}
