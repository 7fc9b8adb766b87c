package dvi_modbus

import (
	"math"
)

const (
	DefaultSlaveId = 0x10

	// CommandRegisterOffset maps a setting's read address to its write address.
	CommandRegisterOffset = 0x100

	coilStart    = 0x0001
	coilQuantity = 14
)

type Group string

const (
	GroupCoils    Group = "coils"
	GroupInputs   Group = "inputs"
	GroupSettings Group = "settings"
)

var Groups = []Group{GroupCoils, GroupInputs, GroupSettings}

type CommandKind string

const (
	CommandSelect CommandKind = "select"
	CommandNumber CommandKind = "number"
)

// Coil is one relay output reported in the FC01 bitmask.
type Coil struct {
	Bit  int
	Id   string
	Name string
}

// Register is a 16 bit register (or a MSW/LSW pair when Low is set) scaled
// to an engineering value.
type Register struct {
	Id          string
	Name        string
	Address     uint16
	Low         uint16
	Scale       float64
	Decimals    int
	Signed      bool
	Unit        string
	DeviceClass string
	StateClass  string
}

// Command is a writable setting. Writes go to Address, the value is read
// back through the setting register at Address-CommandRegisterOffset.
type Command struct {
	Id      string
	Name    string
	Setting string
	Address uint16
	Kind    CommandKind
	Min     float64
	Max     float64
	Step    float64
	Unit    string
}

var Coils = []Coil{
	{Bit: 0, Id: "soft_starter_compressor", Name: "Soft starter Compressor"},
	{Bit: 1, Id: "shunt_vv", Name: "3-way shunt VV open/close"},
	{Bit: 2, Id: "expansion_valve", Name: "Start/stop expansion valve"},
	{Bit: 3, Id: "heating_element", Name: "Heating element"},
	{Bit: 4, Id: "circ_pump_warm_side", Name: "Circ. pump warm side"},
	{Bit: 5, Id: "el_tracing_cv_drain", Name: "El-tracing CV/drain"},
	{Bit: 8, Id: "valve_defrost", Name: "4-way valve defrost"},
	{Bit: 9, Id: "liquid_injection_valve", Name: "Liquid injection solenoid valve"},
	{Bit: 10, Id: "shunt_cv_open", Name: "3-way shunt CV open"},
	{Bit: 11, Id: "shunt_cv_close", Name: "3-way shunt CV close"},
	{Bit: 12, Id: "circ_pump_cv", Name: "Circ. pump CV"},
	{Bit: 14, Id: "sum_alarm", Name: "Sum alarm failure"},
}

func temperature(id, name string, address uint16) Register {
	return Register{
		Id:          id,
		Name:        name,
		Address:     address,
		Scale:       0.1,
		Decimals:    1,
		Signed:      true,
		Unit:        "°C",
		DeviceClass: "temperature",
		StateClass:  "measurement",
	}
}

const (
	InputCVForward = "cv_forward"
	SettingCVMode  = "cv_mode"
)

var Inputs = []Register{
	temperature(InputCVForward, "CV Forward", 0x01),
	temperature("cv_return", "CV Return", 0x02),
	temperature("storage_tank_vv", "Storage tank VV", 0x03),
	temperature("storage_tank_cv", "Storage tank CV", 0x05),
	temperature("evaporator", "Evaporator", 0x06),
	temperature("outdoor", "Outdoor", 0x07),
	temperature("compressor_hp", "Compressor HP", 0x0B),
	temperature("compressor_lp", "Compressor LP", 0x0C),
	{
		Id:          "em23_power",
		Name:        "EM23 Power",
		Address:     0x24,
		Scale:       0.0001,
		Decimals:    4,
		Unit:        "kW",
		DeviceClass: "power",
		StateClass:  "measurement",
	},
}

// Energy is polled with the settings group, it changes slowly.
var Energy = Register{
	Id:          "em23_energy",
	Name:        "EM23 Energy",
	Address:     0x25,
	Low:         0x26,
	Scale:       0.1,
	Decimals:    1,
	Unit:        "kWh",
	DeviceClass: "energy",
	StateClass:  "total_increasing",
}

var Settings = []Register{
	{Id: SettingCVMode, Name: "CV mode", Address: 0x01, Scale: 1},
	{Id: "cv_curve", Name: "CV curve", Address: 0x02, Scale: 1},
	{Id: "cv_setpoint", Name: "CV setpoint", Address: 0x03, Scale: 1, Unit: "°C"},
	{Id: "cv_night_setback", Name: "CV night setback", Address: 0x04, Scale: 1, Unit: "°C"},
	{Id: "vv_mode", Name: "VV mode", Address: 0x0A, Scale: 1},
	{Id: "vv_setpoint", Name: "VV setpoint", Address: 0x0B, Scale: 1, Unit: "°C"},
	{Id: "vv_schedule", Name: "VV schedule", Address: 0x0C, Scale: 1},
	{Id: "aux_heating", Name: "Aux heating", Address: 0x0F, Scale: 1},
	{Id: "comp_hours", Name: "Compressor hours", Address: 0xA1, Scale: 1, Unit: "h", DeviceClass: "duration", StateClass: "total_increasing"},
	{Id: "vv_hours", Name: "VV hours", Address: 0xA2, Scale: 1, Unit: "h", DeviceClass: "duration", StateClass: "total_increasing"},
	{Id: "heating_hours", Name: "Heating hours", Address: 0xA3, Scale: 1, Unit: "h", DeviceClass: "duration", StateClass: "total_increasing"},
	{Id: "curve_temp", Name: "Curve temperature", Address: 0xD0, Scale: 0.1, Decimals: 1, Unit: "°C", DeviceClass: "temperature", StateClass: "measurement"},
}

var Commands = []Command{
	{Id: "cv_mode", Name: "CV state", Setting: "cv_mode", Address: 0x101, Kind: CommandSelect, Min: 0, Max: 1, Step: 1},
	{Id: "cv_curve", Name: "CV curve", Setting: "cv_curve", Address: 0x102, Kind: CommandNumber, Min: 0, Max: 100, Step: 1},
	{Id: "vv_mode", Name: "VV state", Setting: "vv_mode", Address: 0x10A, Kind: CommandSelect, Min: 0, Max: 1, Step: 1},
	{Id: "vv_setpoint", Name: "VV setpoint", Setting: "vv_setpoint", Address: 0x10B, Kind: CommandNumber, Min: 10, Max: 60, Step: 1, Unit: "°C"},
	{Id: "aux_heating", Name: "Aux heating state", Setting: "aux_heating", Address: 0x10F, Kind: CommandSelect, Min: 0, Max: 1, Step: 1},
}

func CommandById(id string) (Command, bool) {
	for _, c := range Commands {
		if c.Id == id {
			return c, true
		}
	}
	return Command{}, false
}

func SettingById(id string) (Register, bool) {
	for _, s := range Settings {
		if s.Id == id {
			return s, true
		}
	}
	return Register{}, false
}

// Value scales a raw register value.
func (r Register) Value(raw uint16) float64 {
	v := float64(raw)
	if r.Signed {
		v = float64(int16(raw))
	}
	return round(v*r.Scale, r.Decimals)
}

// Value32 scales a MSW/LSW register pair.
func (r Register) Value32(msw, lsw uint16) float64 {
	return round(float64(uint32(msw)<<16|uint32(lsw))*r.Scale, r.Decimals)
}

// Encode validates value against the range the controller accepts and builds
// the FC06 request that applies it.
func (c Command) Encode(value float64) (WriteRegister, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return WriteRegister{}, &UnsupportedCommandError{Field: c.Id, Value: value, Reason: "not a number"}
	}
	if value < c.Min || value > c.Max {
		return WriteRegister{}, &UnsupportedCommandError{Field: c.Id, Value: value, Reason: "outside device range"}
	}
	raw := value / c.step()
	rounded := math.Round(raw)
	if math.Abs(raw-rounded) > 1e-6 {
		return WriteRegister{}, &UnsupportedCommandError{Field: c.Id, Value: value, Reason: "not a multiple of the register step"}
	}
	if rounded < 0 || rounded > math.MaxUint16 {
		return WriteRegister{}, &UnsupportedCommandError{Field: c.Id, Value: value, Reason: "not representable in a register"}
	}
	return WriteRegister{Address: c.Address, Value: uint16(rounded)}, nil
}

// Decode turns the controller's write echo back into the setting value.
func (c Command) Decode(echo RegisterEcho) float64 {
	return float64(echo.Value) * c.step()
}

func (c Command) step() float64 {
	if c.Step <= 0 {
		return 1
	}
	return c.Step
}

// EncodeCommand looks up field and encodes value for it.
func EncodeCommand(field string, value float64) (WriteRegister, error) {
	cmd, ok := CommandById(field)
	if !ok {
		return WriteRegister{}, &UnsupportedCommandError{Field: field, Value: value, Reason: "unknown field"}
	}
	return cmd.Encode(value)
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
