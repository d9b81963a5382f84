package wmbus

import "math"

// Quantity describes what a primary-table VIF measures: the field name
// sinks use (unit suffix included), the bare unit, and the scale that
// converts the raw record value into that unit.
type Quantity struct {
	Name  string
	Unit  string
	Scale float64
}

// Special VIF codes outside the scaled ranges.
const (
	VIFDate          = 0x6C
	VIFDateTime      = 0x6D
	VIFFabricationNo = 0x78
)

// QuantityForVIF resolves a primary-table VIF to its physical quantity.
// Energy and power normalize to kWh/kW, flows to m3/h, durations to
// hours. Date, datetime and fabrication-number codes are not scaled
// quantities and return ok == false, as does anything uncovered.
func QuantityForVIF(vif int) (Quantity, bool) {
	if vif < 0 || vif > 0x7F {
		return Quantity{}, false
	}
	n := vif & 0x07
	switch {
	case vif <= 0x07: // 10^(n-3) Wh
		return Quantity{"energy_kwh", "kWh", pow10(n - 6)}, true
	case vif <= 0x0F: // 10^n J
		return Quantity{"energy_kwh", "kWh", pow10(n) / 3.6e6}, true
	case vif <= 0x17: // 10^(n-6) m3
		return Quantity{"volume_m3", "m3", pow10(n - 6)}, true
	case vif <= 0x1F: // 10^(n-3) kg
		return Quantity{"mass_kg", "kg", pow10(n - 3)}, true
	case vif <= 0x23:
		return Quantity{"on_time_h", "h", durationScale(vif & 0x03)}, true
	case vif <= 0x27:
		return Quantity{"operating_time_h", "h", durationScale(vif & 0x03)}, true
	case vif <= 0x2F: // 10^(n-3) W
		return Quantity{"power_kw", "kW", pow10(n - 6)}, true
	case vif <= 0x37: // 10^n J/h
		return Quantity{"power_kw", "kW", pow10(n) / 3.6e6}, true
	case vif <= 0x3F: // 10^(n-6) m3/h
		return Quantity{"flow_m3h", "m3/h", pow10(n - 6)}, true
	case vif <= 0x47: // 10^(n-7) m3/min
		return Quantity{"flow_m3h", "m3/h", pow10(n-7) * 60}, true
	case vif <= 0x4F: // 10^(n-9) m3/s
		return Quantity{"flow_m3h", "m3/h", pow10(n-9) * 3600}, true
	case vif <= 0x57: // 10^(n-3) kg/h
		return Quantity{"mass_flow_kgh", "kg/h", pow10(n - 3)}, true
	case vif <= 0x5B:
		return Quantity{"flow_temperature_c", "C", pow10((vif & 0x03) - 3)}, true
	case vif <= 0x5F:
		return Quantity{"return_temperature_c", "C", pow10((vif & 0x03) - 3)}, true
	case vif <= 0x63:
		return Quantity{"temperature_diff_k", "K", pow10((vif & 0x03) - 3)}, true
	case vif <= 0x67:
		return Quantity{"external_temperature_c", "C", pow10((vif & 0x03) - 3)}, true
	case vif <= 0x6B:
		return Quantity{"pressure_bar", "bar", pow10((vif & 0x03) - 3)}, true
	default:
		return Quantity{}, false
	}
}

func pow10(exp int) float64 {
	return math.Pow10(exp)
}

func durationScale(code int) float64 {
	switch code {
	case 0: // seconds
		return 1.0 / 3600
	case 1: // minutes
		return 1.0 / 60
	case 2: // hours
		return 1
	default: // days
		return 24
	}
}
