// Package vrglove drives a simulated robot hand from VR controllers and a
// calibrated CyberGlove.
//
// The glove is mapped onto the hand's actuators by a per-finger linear model
// fitted while the user mimics a set of reference poses. During
// teleoperation the VR controllers grab and move bodies in the scene, move
// the scene itself, and drive the gripper with the trigger.
//
// # Installation
//
//	go install github.com/gwillem/vrglove/cmd/vrglove@latest
//
// # Usage
//
// Calibrate the glove against the reference poses:
//
//	vrglove calibrate --poses poses.csv
//
// Then start teleoperation:
//
//	vrglove teleoperate --glove --log run
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/vrglove: CLI with calibrate, teleoperate, view and ports commands
//   - pkg/calibration: Pose files, range tracking, regression and calibration files
//   - pkg/glove: CyberGlove driver, replay source and calibrated mapping
//   - pkg/sim: Simulator interface and the kinematic hand
//   - pkg/spatial: Poses and frame conversions
//   - pkg/vr: VR frames, the MQTT bridge runtime and a scripted mock
//   - pkg/teleop: Controller mapping and the teleoperation loop
//   - pkg/simlog: Binary step log
//   - pkg/telemetry: State publishing over MQTT and websockets
//   - pkg/config: YAML configuration
package vrglove
