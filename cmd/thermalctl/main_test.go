package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/thermalctl/internal/config"
	"codeberg.org/mutker/thermalctl/internal/controller"
	"codeberg.org/mutker/thermalctl/internal/curve"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/gpu"
	"codeberg.org/mutker/thermalctl/internal/hwmon"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/power"
	"codeberg.org/mutker/thermalctl/internal/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	dir       string
	config    string
	curveFile string
}

func newEnv(t *testing.T) env {
	t.Helper()
	t.Setenv("THERMALCTL_CONFIG", "")

	dir := t.TempDir()
	e := env{
		dir:       dir,
		config:    filepath.Join(dir, "thermalctl.toml"),
		curveFile: filepath.Join(dir, "curve.bin"),
	}
	content := "log_file = \"" + filepath.Join(dir, "thermalctl.log") + "\"\n" +
		"curve_file = \"" + e.curveFile + "\"\n"
	require.NoError(t, os.WriteFile(e.config, []byte(content), 0o600))

	return e
}

func execute(t *testing.T, e env, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.config}, args...))

	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, newEnv(t), "version")
	require.NoError(t, err)
	assert.Equal(t, "thermalctl dev\n", out)
}

func TestCurveShowDefault(t *testing.T) {
	e := newEnv(t)

	out, err := execute(t, e, "curve", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "built-in default")
	assert.Contains(t, out, "Interpolated:")

	_, statErr := os.Stat(e.curveFile)
	assert.True(t, os.IsNotExist(statErr), "show must not create the curve file")
}

func TestCurveSetAndShow(t *testing.T) {
	e := newEnv(t)

	_, err := execute(t, e, "curve", "set", "20:0.1", "100:1.0")
	require.NoError(t, err)

	table, err := curve.NewStore(e.curveFile, logger.Nop()).Read()
	require.NoError(t, err)
	assert.Equal(t, curve.Table{{TemperatureC: 20, DutyCycle: 0.1}, {TemperatureC: 100, DutyCycle: 1.0}}, table)

	out, err := execute(t, e, "curve", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Curve: "+e.curveFile)
	assert.Contains(t, out, "55.0 %")
}

func TestCurveSetRejectsInvalidInput(t *testing.T) {
	e := newEnv(t)

	_, err := execute(t, e, "curve", "set", "20:0.1", "hot:1.0")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, curve.ErrInvalidPoint))

	_, err = execute(t, e, "curve", "set", "60:0.5", "40:0.7")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, curve.ErrInvalidTable))

	_, err = execute(t, e, "curve", "set", "60:0.5")
	require.Error(t, err)

	_, statErr := os.Stat(e.curveFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCurveReset(t *testing.T) {
	e := newEnv(t)

	_, err := execute(t, e, "curve", "set", "20:0.1", "100:1.0")
	require.NoError(t, err)
	_, err = execute(t, e, "curve", "reset")
	require.NoError(t, err)

	table, err := curve.NewStore(e.curveFile, logger.Nop()).Read()
	require.NoError(t, err)
	assert.Equal(t, curve.Default(), table)
}

func TestMissingExplicitConfig(t *testing.T) {
	e := newEnv(t)
	e.config = filepath.Join(e.dir, "missing.toml")

	_, err := execute(t, e, "curve", "show")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestNewBackends(t *testing.T) {
	t.Run("hwmon", func(t *testing.T) {
		b := newBackends(&config.Config{Sensor: config.SensorHwmon, SensorPath: "/x", Actuator: config.ActuatorHwmon, PwmPath: "/y"})
		assert.IsType(t, &hwmon.Sensor{}, b.sensor)
		assert.IsType(t, &hwmon.PwmActuator{}, b.actuator)
		assert.Empty(t, b.closers)
	})

	t.Run("monitor", func(t *testing.T) {
		b := newBackends(&config.Config{Sensor: config.SensorHost, Actuator: config.ActuatorHwmon, Monitor: true})
		assert.IsType(t, &sensors.Host{}, b.sensor)
		assert.Equal(t, controller.NopActuator{}, b.actuator)
	})

	t.Run("shared nvml", func(t *testing.T) {
		b := newBackends(&config.Config{Sensor: config.SensorNVML, Actuator: config.ActuatorNVML})
		defer b.Close()

		require.IsType(t, &gpu.Backend{}, b.sensor)
		assert.Same(t, b.sensor, b.actuator)
		assert.Len(t, b.closers, 1)
	})
}

func TestPowerState(t *testing.T) {
	assert.Equal(t, power.Static(false), powerState(&config.Config{}))
	assert.IsType(t, &power.File{}, powerState(&config.Config{PowerStateFile: "/run/suspended"}))
}

func TestRunDaemonStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, "temp1_input")
	require.NoError(t, os.WriteFile(temp, []byte("45000\n"), 0o644))

	cfg := &config.Config{
		LogLevel:   "error",
		LogFile:    filepath.Join(dir, "thermalctl.log"),
		PidFile:    filepath.Join(dir, "thermalctl.pid"),
		CurveFile:  filepath.Join(dir, "curve.bin"),
		Sensor:     config.SensorHwmon,
		SensorPath: temp,
		Actuator:   config.ActuatorNone,
	}
	t.Cleanup(func() { _ = logger.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	require.NoError(t, runDaemon(ctx, cfg))

	_, err := os.Stat(cfg.PidFile)
	assert.True(t, os.IsNotExist(err), "pid file is removed on exit")

	table, err := curve.NewStore(cfg.CurveFile, logger.Nop()).Read()
	require.NoError(t, err, "a missing curve file is created with the default")
	assert.Equal(t, curve.Default(), table)
}

func TestRunDaemonRejectsIncompleteBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		LogLevel:  "error",
		PidFile:   filepath.Join(dir, "thermalctl.pid"),
		CurveFile: filepath.Join(dir, "curve.bin"),
		Sensor:    config.SensorHwmon,
		Actuator:  config.ActuatorHwmon,
	}

	err := runDaemon(context.Background(), cfg)
	require.Error(t, err)

	_, statErr := os.Stat(cfg.PidFile)
	assert.True(t, os.IsNotExist(statErr))
}
