package vehicle

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/OCAP2/vehiclesim/internal/curve"
)

// Preset names accepted by Preset and the vehicle definition file.
const (
	PresetCar   = "car"
	PresetHover = "hover"
)

// Points is a curve written as [time, value] pairs. Empty points keep the component's
// default curve.
type Points [][]float64

func (p Points) curve(fallback *curve.Curve) *curve.Curve {
	if len(p) == 0 {
		return fallback
	}
	pts := make([][2]float64, 0, len(p))
	for _, kv := range p {
		if len(kv) < 2 {
			continue
		}
		pts = append(pts, [2]float64{kv[0], kv[1]})
	}
	if len(pts) == 0 {
		return fallback
	}
	return curve.FromPoints(pts...)
}

// Vec is an [x, y, z] triple.
type Vec [3]float64

// BodyDef describes the rigid body and its hull.
type BodyDef struct {
	Mass                   float64 `json:"mass" mapstructure:"mass"`
	Size                   Vec     `json:"size" mapstructure:"size"`
	HullOffset             Vec     `json:"hullOffset" mapstructure:"hullOffset"`
	Drag                   float64 `json:"drag" mapstructure:"drag"`
	AngularDrag            float64 `json:"angularDrag" mapstructure:"angularDrag"`
	CenterOfMassOffset     Vec     `json:"centerOfMassOffset" mapstructure:"centerOfMassOffset"`
	SuspensionCenterOfMass bool    `json:"suspensionCenterOfMass" mapstructure:"suspensionCenterOfMass"`
}

// ControlDef holds the VehicleParent input handling tunables.
type ControlDef struct {
	AccelAxisIsBrake  bool    `json:"accelAxisIsBrake" mapstructure:"accelAxisIsBrake"`
	BrakeIsReverse    bool    `json:"brakeIsReverse" mapstructure:"brakeIsReverse"`
	HoldEbrakePark    bool    `json:"holdEbrakePark" mapstructure:"holdEbrakePark"`
	BurnoutThreshold  float64 `json:"burnoutThreshold" mapstructure:"burnoutThreshold"`
	BurnoutSpin       float64 `json:"burnoutSpin" mapstructure:"burnoutSpin"`
	BurnoutSmoothness float64 `json:"burnoutSmoothness" mapstructure:"burnoutSmoothness"`
	CanCrash          bool    `json:"canCrash" mapstructure:"canCrash"`
	// WheelGroups lists wheel indexes that share a contact toggle.
	WheelGroups [][]int `json:"wheelGroups" mapstructure:"wheelGroups"`
}

// EngineDef describes the motor. Hover vehicles read ForceCurve, gas engines the rest.
type EngineDef struct {
	Power            float64 `json:"power" mapstructure:"power"`
	InputCurve       Points  `json:"inputCurve" mapstructure:"inputCurve"`
	TorqueCurve      Points  `json:"torqueCurve" mapstructure:"torqueCurve"`
	ForceCurve       Points  `json:"forceCurve" mapstructure:"forceCurve"`
	Inertia          float64 `json:"inertia" mapstructure:"inertia"`
	CanReverse       bool    `json:"canReverse" mapstructure:"canReverse"`
	DriveDividePower float64 `json:"driveDividePower" mapstructure:"driveDividePower"`
	CanBoost         bool    `json:"canBoost" mapstructure:"canBoost"`
	MaxBoost         float64 `json:"maxBoost" mapstructure:"maxBoost"`
	BoostBurnRate    float64 `json:"boostBurnRate" mapstructure:"boostBurnRate"`
	BoostPowerCurve  Points  `json:"boostPowerCurve" mapstructure:"boostPowerCurve"`
}

// TransmissionDef describes the transmission. Kind is "gearbox", "continuous" or empty
// for a direct drive.
type TransmissionDef struct {
	Kind                   string  `json:"kind" mapstructure:"kind"`
	Automatic              bool    `json:"automatic" mapstructure:"automatic"`
	SkidSteerDrive         bool    `json:"skidSteerDrive" mapstructure:"skidSteerDrive"`
	DriveDividePower       float64 `json:"driveDividePower" mapstructure:"driveDividePower"`
	Gears                  []Gear  `json:"gears" mapstructure:"gears"`
	StartGear              int     `json:"startGear" mapstructure:"startGear"`
	SkipNeutral            bool    `json:"skipNeutral" mapstructure:"skipNeutral"`
	AutoCalculateRPMRanges bool    `json:"autoCalculateRpmRanges" mapstructure:"autoCalculateRpmRanges"`
	ShiftDelay             float64 `json:"shiftDelay" mapstructure:"shiftDelay"`
	ShiftThreshold         float64 `json:"shiftThreshold" mapstructure:"shiftThreshold"`
	MinRatio               float64 `json:"minRatio" mapstructure:"minRatio"`
	MaxRatio               float64 `json:"maxRatio" mapstructure:"maxRatio"`
	CanReverse             bool    `json:"canReverse" mapstructure:"canReverse"`
}

// WheelDef describes one suspension and the wheel mounted on it. Wheels with a
// negative x position sit on the left side and face outward.
type WheelDef struct {
	Name     string `json:"name" mapstructure:"name"`
	Position Vec    `json:"position" mapstructure:"position"`
	Steered  bool   `json:"steered" mapstructure:"steered"`
	Driven   bool   `json:"driven" mapstructure:"driven"`
	Ebrake   bool   `json:"ebrake" mapstructure:"ebrake"`
	// Opposite is the index of the wheel on the same axle, -1 for none.
	Opposite int `json:"opposite" mapstructure:"opposite"`

	SuspensionDistance float64 `json:"suspensionDistance" mapstructure:"suspensionDistance"`
	SpringForce        float64 `json:"springForce" mapstructure:"springForce"`
	SpringExponent     float64 `json:"springExponent" mapstructure:"springExponent"`
	SpringDampening    float64 `json:"springDampening" mapstructure:"springDampening"`
	ExtendSpeed        float64 `json:"extendSpeed" mapstructure:"extendSpeed"`
	BrakeForce         float64 `json:"brakeForce" mapstructure:"brakeForce"`
	EbrakeForce        float64 `json:"ebrakeForce" mapstructure:"ebrakeForce"`
	SteerRangeMin      float64 `json:"steerRangeMin" mapstructure:"steerRangeMin"`
	SteerRangeMax      float64 `json:"steerRangeMax" mapstructure:"steerRangeMax"`
	SteerFactor        float64 `json:"steerFactor" mapstructure:"steerFactor"`
	AckermannFactor    float64 `json:"ackermannFactor" mapstructure:"ackermannFactor"`
	CamberOffset       float64 `json:"camberOffset" mapstructure:"camberOffset"`
	CasterAngle        float64 `json:"casterAngle" mapstructure:"casterAngle"`
	ToeAngle           float64 `json:"toeAngle" mapstructure:"toeAngle"`
	SideAngle          float64 `json:"sideAngle" mapstructure:"sideAngle"`
	LeaningForce       bool    `json:"leaningForce" mapstructure:"leaningForce"`

	TireRadius       float64 `json:"tireRadius" mapstructure:"tireRadius"`
	RimRadius        float64 `json:"rimRadius" mapstructure:"rimRadius"`
	TireWidth        float64 `json:"tireWidth" mapstructure:"tireWidth"`
	RimWidth         float64 `json:"rimWidth" mapstructure:"rimWidth"`
	Mass             float64 `json:"mass" mapstructure:"mass"`
	ForwardFriction  float64 `json:"forwardFriction" mapstructure:"forwardFriction"`
	SidewaysFriction float64 `json:"sidewaysFriction" mapstructure:"sidewaysFriction"`
	AxleFriction     float64 `json:"axleFriction" mapstructure:"axleFriction"`
	SlipDependence   string  `json:"slipDependence" mapstructure:"slipDependence"`
	CanPop           bool    `json:"canPop" mapstructure:"canPop"`
	DetachForce      float64 `json:"detachForce" mapstructure:"detachForce"`
	HardCollider     bool    `json:"hardCollider" mapstructure:"hardCollider"`
}

// HoverWheelDef describes one hover pad.
type HoverWheelDef struct {
	Name             string  `json:"name" mapstructure:"name"`
	Position         Vec     `json:"position" mapstructure:"position"`
	Steered          bool    `json:"steered" mapstructure:"steered"`
	HoverDistance    float64 `json:"hoverDistance" mapstructure:"hoverDistance"`
	BufferDistance   float64 `json:"bufferDistance" mapstructure:"bufferDistance"`
	FloatForce       float64 `json:"floatForce" mapstructure:"floatForce"`
	BufferFloatForce float64 `json:"bufferFloatForce" mapstructure:"bufferFloatForce"`
	FloatExponent    float64 `json:"floatExponent" mapstructure:"floatExponent"`
	FloatDampening   float64 `json:"floatDampening" mapstructure:"floatDampening"`
	BrakeForce       float64 `json:"brakeForce" mapstructure:"brakeForce"`
	EbrakeForce      float64 `json:"ebrakeForce" mapstructure:"ebrakeForce"`
	SteerFactor      float64 `json:"steerFactor" mapstructure:"steerFactor"`
	SideFriction     float64 `json:"sideFriction" mapstructure:"sideFriction"`
}

// SteeringDef tunes SteeringControl or HoverSteer.
type SteeringDef struct {
	SteerRate      float64 `json:"steerRate" mapstructure:"steerRate"`
	SteerCurve     Points  `json:"steerCurve" mapstructure:"steerCurve"`
	LimitSteer     bool    `json:"limitSteer" mapstructure:"limitSteer"`
	ApplyInReverse bool    `json:"applyInReverse" mapstructure:"applyInReverse"`
}

// AssistDef tunes VehicleAssist.
type AssistDef struct {
	DriftSpinAssist   float64 `json:"driftSpinAssist" mapstructure:"driftSpinAssist"`
	DriftSpinSpeed    float64 `json:"driftSpinSpeed" mapstructure:"driftSpinSpeed"`
	DriftPush         float64 `json:"driftPush" mapstructure:"driftPush"`
	StraightenAssist  bool    `json:"straightenAssist" mapstructure:"straightenAssist"`
	Downforce         float64 `json:"downforce" mapstructure:"downforce"`
	AutoRollOver      bool    `json:"autoRollOver" mapstructure:"autoRollOver"`
	RollOverForce     float64 `json:"rollOverForce" mapstructure:"rollOverForce"`
	RollResetTime     float64 `json:"rollResetTime" mapstructure:"rollResetTime"`
	AngularDragOnJump bool    `json:"angularDragOnJump" mapstructure:"angularDragOnJump"`
	FallSpeedLimit    float64 `json:"fallSpeedLimit" mapstructure:"fallSpeedLimit"`
}

// FlipDef tunes FlipControl.
type FlipDef struct {
	FlipPower          Vec     `json:"flipPower" mapstructure:"flipPower"`
	FreeSpinFlip       bool    `json:"freeSpinFlip" mapstructure:"freeSpinFlip"`
	StopFlip           bool    `json:"stopFlip" mapstructure:"stopFlip"`
	RotationCorrection Vec     `json:"rotationCorrection" mapstructure:"rotationCorrection"`
	DiveFactor         float64 `json:"diveFactor" mapstructure:"diveFactor"`
	DisableDuringCrash bool    `json:"disableDuringCrash" mapstructure:"disableDuringCrash"`
}

// Definition is everything Build needs to assemble a vehicle. It is plain data so it
// can come from the config file and be shared by every peer.
type Definition struct {
	Name  string `json:"name" mapstructure:"name"`
	Hover bool   `json:"hover" mapstructure:"hover"`

	Body         BodyDef         `json:"body" mapstructure:"body"`
	Control      ControlDef      `json:"control" mapstructure:"control"`
	Engine       EngineDef       `json:"engine" mapstructure:"engine"`
	Transmission TransmissionDef `json:"transmission" mapstructure:"transmission"`
	Wheels       []WheelDef      `json:"wheels" mapstructure:"wheels"`
	HoverWheels  []HoverWheelDef `json:"hoverWheels" mapstructure:"hoverWheels"`
	Steering     SteeringDef     `json:"steering" mapstructure:"steering"`
	Assist       *AssistDef      `json:"assist" mapstructure:"assist"`
	Flip         *FlipDef        `json:"flip" mapstructure:"flip"`
}

func carWheel(name string, x, z float64, front bool, opposite int) WheelDef {
	return WheelDef{
		Name:               name,
		Position:           Vec{x, 0, z},
		Steered:            front,
		Driven:             !front,
		Ebrake:             !front,
		Opposite:           opposite,
		SuspensionDistance: 0.2,
		SpringForce:        5,
		SpringExponent:     1,
		SpringDampening:    0.3,
		ExtendSpeed:        20,
		BrakeForce:         1,
		EbrakeForce:        1,
		SteerRangeMin:      -30,
		SteerRangeMax:      30,
		SteerFactor:        1,
		TireRadius:         0.35,
		RimRadius:          0.25,
		TireWidth:          0.25,
		RimWidth:           0.2,
		Mass:               0.05,
		ForwardFriction:    1,
		SidewaysFriction:   1,
		AxleFriction:       0.01,
		SlipDependence:     "sideways",
		CanPop:             true,
		HardCollider:       true,
	}
}

// DefaultCar is a rear wheel drive four wheeled car with an automatic gearbox.
func DefaultCar() Definition {
	return Definition{
		Name: PresetCar,
		Body: BodyDef{
			Mass:        1,
			Size:        Vec{1.8, 0.6, 4},
			HullOffset:  Vec{0, 0.3, 0},
			Drag:        0.02,
			AngularDrag: 0.1,
		},
		Control: ControlDef{
			HoldEbrakePark:    true,
			BurnoutThreshold:  0.9,
			BurnoutSpin:       5,
			BurnoutSmoothness: 0.5,
			CanCrash:          true,
		},
		Engine: EngineDef{
			Power:            1,
			TorqueCurve:      Points{{0, 0}, {0.1, 1}, {0.8, 0.8}, {1, 0}},
			Inertia:          0.3,
			CanReverse:       true,
			DriveDividePower: 3,
			CanBoost:         true,
			MaxBoost:         1,
			BoostBurnRate:    0.01,
		},
		Transmission: TransmissionDef{
			Kind:             TransmissionGearbox.String(),
			Automatic:        true,
			DriveDividePower: 3,
			Gears: []Gear{
				{Ratio: -5}, {Ratio: 0}, {Ratio: 5}, {Ratio: 3.5}, {Ratio: 2.5}, {Ratio: 1.8}, {Ratio: 1.3},
			},
			StartGear:              2,
			SkipNeutral:            true,
			AutoCalculateRPMRanges: true,
			ShiftDelay:             0.05,
			ShiftThreshold:         0.9,
		},
		Wheels: []WheelDef{
			carWheel("front-left", -0.8, 1.3, true, 1),
			carWheel("front-right", 0.8, 1.3, true, 0),
			carWheel("rear-left", -0.8, -1.3, false, 3),
			carWheel("rear-right", 0.8, -1.3, false, 2),
		},
		Steering: SteeringDef{
			SteerRate:  0.1,
			SteerCurve: Points{{0, 1}, {30, 0.1}},
			LimitSteer: true,
		},
		Assist: &AssistDef{
			DriftSpinAssist:   0.5,
			DriftSpinSpeed:    1,
			Downforce:         0.5,
			AutoRollOver:      true,
			RollOverForce:     1,
			RollResetTime:     3,
			AngularDragOnJump: true,
		},
		Flip: &FlipDef{
			FlipPower:          Vec{1, 1, 1},
			StopFlip:           true,
			RotationCorrection: Vec{0.5, 0, 0.5},
			DiveFactor:         0.5,
			DisableDuringCrash: true,
		},
	}
}

func hoverPad(name string, x, z float64, steered bool) HoverWheelDef {
	return HoverWheelDef{
		Name:             name,
		Position:         Vec{x, 0, z},
		Steered:          steered,
		HoverDistance:    0.6,
		BufferDistance:   0.2,
		FloatForce:       1,
		BufferFloatForce: 2,
		FloatExponent:    1,
		FloatDampening:   0.5,
		BrakeForce:       1,
		EbrakeForce:      2,
		SteerFactor:      1,
		SideFriction:     1,
	}
}

// DefaultHover is a four pad hover craft with a hover motor and no transmission.
func DefaultHover() Definition {
	return Definition{
		Name:  PresetHover,
		Hover: true,
		Body: BodyDef{
			Mass:        1,
			Size:        Vec{2, 0.5, 4},
			HullOffset:  Vec{0, 0.25, 0},
			Drag:        0.05,
			AngularDrag: 0.5,
		},
		Control: ControlDef{
			BurnoutThreshold:  0.9,
			BurnoutSmoothness: 0.5,
			CanCrash:          true,
		},
		Engine: EngineDef{
			Power:         1,
			ForceCurve:    Points{{0, 1}, {50, 0}},
			CanBoost:      true,
			MaxBoost:      1,
			BoostBurnRate: 0.01,
		},
		HoverWheels: []HoverWheelDef{
			hoverPad("front-left", -0.9, 1.5, true),
			hoverPad("front-right", 0.9, 1.5, true),
			hoverPad("rear-left", -0.9, -1.5, false),
			hoverPad("rear-right", 0.9, -1.5, false),
		},
		Steering: SteeringDef{
			SteerRate:  1,
			SteerCurve: Points{{0, 1}, {30, 0.1}},
		},
		Assist: &AssistDef{
			Downforce:     0.2,
			RollResetTime: 3,
		},
	}
}

// Preset returns the named built-in definition.
func Preset(name string) (Definition, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetCar:
		return DefaultCar(), nil
	case PresetHover:
		return DefaultHover(), nil
	}
	return Definition{}, fmt.Errorf("%q: %w", name, ErrUnknownPreset)
}

// LoadDefinition reads a definition from v under key. The "preset" sub key picks the
// built-in definition the file overrides; it defaults to the car.
func LoadDefinition(v *viper.Viper, key string) (Definition, error) {
	def, err := Preset(v.GetString(key + ".preset"))
	if err != nil {
		return Definition{}, err
	}
	if !v.IsSet(key) {
		return def, nil
	}
	if err := v.UnmarshalKey(key, &def); err != nil {
		return Definition{}, fmt.Errorf("decode vehicle definition %s: %w", key, err)
	}
	return def, nil
}
