package vehicle

import (
	"math"

	"github.com/OCAP2/vehiclesim/internal/curve"
	"github.com/OCAP2/vehiclesim/internal/state"
)

// DriveForce is one link of the drivetrain: the rpm and torque pushed downstream and
// the feedback rpm reported back upstream.
type DriveForce struct {
	RPM         float64
	Torque      float64
	Curve       *curve.Curve
	FeedbackRPM float64
	Active      bool
}

func NewDriveForce() *DriveForce {
	return &DriveForce{Active: true}
}

// SetDrive copies rpm, torque and curve from another drive.
func (d *DriveForce) SetDrive(from *DriveForce) {
	d.RPM = from.RPM
	d.Torque = from.Torque
	d.Curve = from.Curve
}

// SetDriveScaled copies from another drive and scales the torque by factor.
func (d *DriveForce) SetDriveScaled(from *DriveForce, factor float64) {
	d.RPM = from.RPM
	d.Torque = from.Torque * factor
	d.Curve = from.Curve
}

// TorqueFactor is the share of torque each of n outputs receives.
func TorqueFactor(n int, dividePower float64) float64 {
	if n <= 0 {
		return 0
	}
	return math.Pow(1/float64(n), dividePower)
}

func (d *DriveForce) writeFull(w *state.Writer) {
	w.WriteFloat64(d.RPM)
	w.WriteFloat64(d.Torque)
	w.WriteFloat64(d.FeedbackRPM)
	w.WriteBool(d.Active)
}

func (d *DriveForce) readFull(r *state.Reader) {
	d.RPM = r.Float64()
	d.Torque = r.Float64()
	d.FeedbackRPM = r.Float64()
	d.Active = r.Bool()
}

func (d *DriveForce) writeVisual(w *state.Writer) {
	w.WriteFloat64(d.RPM)
}

func (d *DriveForce) readVisual(r *state.Reader) {
	d.RPM = r.Float64()
}
