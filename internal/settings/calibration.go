package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/task"
)

// #region formats
// waterFile is date -> valve -> open time (s) -> interval -> cycles ->
// total volumes measured over that many cycles.
type waterFile map[string]map[string]map[string]map[string]map[string][]float64

// laserPoints holds [voltage, power mW] pairs.
type laserPoints struct {
	LaserPowerVoltage [][2]float64 `json:"LaserPowerVoltage"`
}

// laserFile is date -> color -> protocol -> payload. Sine payloads are keyed
// by frequency then laser name; Constant and Pulse payloads by laser name.
type laserFile map[string]map[string]map[string]json.RawMessage

// #endregion formats

// #region calibration
type point struct{ x, y float64 }

type line struct {
	intercept, slope float64
	ok               bool
}

// Calibration converts reward volumes to valve times and laser powers to
// drive voltages, using the most recent calibration date per device.
type Calibration struct {
	water map[string][]point // valve -> (open time, volume per drop)
	laser map[string][]point // color|protocol|freq -> (power, voltage)
	fits  *lru.Cache[string, line]
}

// NewCalibration parses water and laser calibration JSON. Either may be nil.
func NewCalibration(water, laser []byte) (*Calibration, error) {
	fits, err := lru.New[string, line](64)
	if err != nil {
		return nil, err
	}
	c := &Calibration{water: map[string][]point{}, laser: map[string][]point{}, fits: fits}
	if len(water) > 0 {
		if err := c.parseWater(water); err != nil {
			return nil, fmt.Errorf("water calibration: %w", err)
		}
	}
	if len(laser) > 0 {
		if err := c.parseLaser(laser); err != nil {
			return nil, fmt.Errorf("laser calibration: %w", err)
		}
	}
	return c, nil
}

// LoadCalibration reads the calibration files. A missing path or file
// yields an empty calibration for that device class.
func LoadCalibration(waterPath, laserPath string) (*Calibration, error) {
	water, err := readOptional(waterPath)
	if err != nil {
		return nil, err
	}
	laser, err := readOptional(laserPath)
	if err != nil {
		return nil, err
	}
	return NewCalibration(water, laser)
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

func (c *Calibration) parseWater(b []byte) error {
	var f waterFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	for _, valve := range []string{"Left", "Right"} {
		date, ok := latest(f, func(d string) bool { return len(f[d][valve]) > 0 })
		if !ok {
			continue
		}
		for openStr, intervals := range f[date][valve] {
			open, err := strconv.ParseFloat(openStr, 64)
			if err != nil {
				return fmt.Errorf("%s %s open time %q: %w", date, valve, openStr, err)
			}
			var perDrop []float64
			for _, cycles := range intervals {
				for cyclesStr, totals := range cycles {
					n, err := strconv.ParseFloat(cyclesStr, 64)
					if err != nil || n <= 0 || len(totals) == 0 {
						continue
					}
					perDrop = append(perDrop, stat.Mean(totals, nil)/n)
				}
			}
			if len(perDrop) > 0 {
				c.water[valve] = append(c.water[valve], point{open, stat.Mean(perDrop, nil)})
			}
		}
		sortPoints(c.water[valve])
	}
	return nil
}

func (c *Calibration) parseLaser(b []byte) error {
	var f laserFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	colors := map[string]bool{}
	for _, byColor := range f {
		for color := range byColor {
			colors[color] = true
		}
	}
	for color := range colors {
		date, ok := latest(f, func(d string) bool { return len(f[d][color]) > 0 })
		if !ok {
			continue
		}
		for protocol, raw := range f[date][color] {
			if task.Protocol(protocol) == task.Sine {
				var byFreq map[string]map[string]laserPoints
				if err := json.Unmarshal(raw, &byFreq); err != nil {
					return fmt.Errorf("%s %s %s: %w", date, color, protocol, err)
				}
				for freqStr, lasers := range byFreq {
					freq, err := strconv.ParseFloat(freqStr, 64)
					if err != nil {
						return fmt.Errorf("%s %s frequency %q: %w", date, color, freqStr, err)
					}
					c.addLaser(laserKey(color, task.Sine, freq), lasers)
				}
				continue
			}
			var lasers map[string]laserPoints
			if err := json.Unmarshal(raw, &lasers); err != nil {
				return fmt.Errorf("%s %s %s: %w", date, color, protocol, err)
			}
			c.addLaser(laserKey(color, task.Protocol(protocol), 0), lasers)
		}
	}
	return nil
}

// addLaser pools the points of every laser of one color and protocol.
func (c *Calibration) addLaser(key string, lasers map[string]laserPoints) {
	for _, l := range lasers {
		for _, vp := range l.LaserPowerVoltage {
			c.laser[key] = append(c.laser[key], point{x: vp[1], y: vp[0]})
		}
	}
	sortPoints(c.laser[key])
}

func laserKey(color string, p task.Protocol, freq float64) string {
	if p != task.Sine {
		freq = 0
	}
	return fmt.Sprintf("%s|%s|%g", color, p, freq)
}

// latest returns the greatest ISO date key accepted by keep.
func latest[V any](m map[string]V, keep func(string) bool) (string, bool) {
	var dates []string
	for d := range m {
		if keep(d) {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return "", false
	}
	sort.Strings(dates)
	return dates[len(dates)-1], true
}

func sortPoints(ps []point) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].x < ps[j].x })
}

// #endregion calibration

// #region lookups
// fit returns the least-squares line through the points stored under key.
func (c *Calibration) fit(key string, ps []point) line {
	if l, ok := c.fits.Get(key); ok {
		return l
	}
	var l line
	if len(ps) >= 2 {
		xs := make([]float64, len(ps))
		ys := make([]float64, len(ps))
		for i, p := range ps {
			xs[i], ys[i] = p.x, p.y
		}
		l.intercept, l.slope = stat.LinearRegression(xs, ys, nil, false)
		l.ok = l.slope != 0
	}
	c.fits.Add(key, l)
	return l
}

// ValveTime returns the open time in seconds that delivers volumeUL.
func (c *Calibration) ValveTime(side task.Choice, volumeUL float64) (float64, bool) {
	valve := "Left"
	if side == task.Right {
		valve = "Right"
	}
	l := c.fit("water|"+valve, c.water[valve])
	if !l.ok {
		return 0, false
	}
	t := (volumeUL - l.intercept) / l.slope
	if t <= 0 {
		return 0, false
	}
	return t, true
}

// Voltage implements opto.Calibrator.
func (c *Calibration) Voltage(color string, protocol task.Protocol, frequency, powerMW float64) (float64, bool) {
	key := laserKey(color, protocol, frequency)
	l := c.fit("laser|"+key, c.laser[key])
	if !l.ok {
		return 0, false
	}
	v := l.intercept + l.slope*powerMW
	if v < 0 {
		return 0, false
	}
	return v, true
}

// ValveTimes resolves the valve open times for v. A positive volume wins
// when the valve is calibrated; otherwise the configured time is used.
func (c *Calibration) ValveTimes(v task.Valves) bus.ValveTimes {
	out := bus.ValveTimes{Left: v.LeftOpen, Right: v.RightOpen}
	if c == nil {
		return out
	}
	if v.LeftVolume > 0 {
		if t, ok := c.ValveTime(task.Left, v.LeftVolume); ok {
			out.Left = t
		}
	}
	if v.RightVolume > 0 {
		if t, ok := c.ValveTime(task.Right, v.RightVolume); ok {
			out.Right = t
		}
	}
	return out
}

// #endregion lookups
