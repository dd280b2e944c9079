package timeframe

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"chainflow/src/helpers"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// Timeframe parsing and window alignment.
// -----------------------------------------------------------------------------

// Timeframe is a validated timeframe of a network.
type Timeframe struct {
	Seconds  int64
	Label    string
	Capacity int
}

var labelPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var unitSeconds = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

// -----------------------------------------------------------------------------

// ParseLabel converts a label like "15s", "1m", "4h" into its second count.
func ParseLabel(label string) (int64, error) {
	m := labelPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, helpers.NewConfigurationError(fmt.Sprintf("invalid timeframe label %q", label), nil)
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || value <= 0 {
		return 0, helpers.NewConfigurationError(fmt.Sprintf("invalid timeframe value in %q", label), err)
	}
	return value * unitSeconds[m[2]], nil
}

// -----------------------------------------------------------------------------

// FromConfig validates one timeframe declaration. A declared second count
// must agree with the label when both are present.
func FromConfig(cfg models.MTimeframeConfig) (Timeframe, error) {
	secs, err := ParseLabel(cfg.Label)
	if err != nil {
		return Timeframe{}, err
	}
	if cfg.Seconds > 0 && cfg.Seconds != secs {
		return Timeframe{}, helpers.NewConfigurationError(
			fmt.Sprintf("timeframe %q declares %d seconds but label implies %d", cfg.Label, cfg.Seconds, secs), nil)
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return Timeframe{Seconds: secs, Label: cfg.Label, Capacity: capacity}, nil
}

// DefaultCapacity matches the causal-API window of 5000 rows.
const DefaultCapacity = 5000

// -----------------------------------------------------------------------------

// Network is a non-empty ordered set of timeframes with unique labels.
type Network struct {
	Name       string
	Timeframes []Timeframe
}

// BuildNetwork validates a configured network.
func BuildNetwork(cfg models.MNetworkOfTimes) (*Network, error) {
	if len(cfg.Timeframes) == 0 {
		return nil, helpers.NewConfigurationError(fmt.Sprintf("timeframe network %q is empty", cfg.Name), nil)
	}

	seen := make(map[string]bool, len(cfg.Timeframes))
	n := &Network{Name: cfg.Name}
	for _, tfCfg := range cfg.Timeframes {
		tf, err := FromConfig(tfCfg)
		if err != nil {
			return nil, err
		}
		if seen[tf.Label] {
			return nil, helpers.NewConfigurationError(
				fmt.Sprintf("duplicate timeframe label %q in network %q", tf.Label, cfg.Name), nil)
		}
		seen[tf.Label] = true
		n.Timeframes = append(n.Timeframes, tf)
	}
	return n, nil
}

// -----------------------------------------------------------------------------

// WindowStart aligns t down to a multiple of the timeframe's second count
// from the epoch.
func (tf Timeframe) WindowStart(t time.Time) time.Time {
	epoch := t.Unix()
	aligned := epoch - (epoch % tf.Seconds)
	return time.Unix(aligned, 0).UTC()
}

// NextWindow returns the window start that follows start.
func (tf Timeframe) NextWindow(start time.Time) time.Time {
	return start.Add(time.Duration(tf.Seconds) * time.Second)
}

// Duration returns the timeframe's length.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds) * time.Second
}
