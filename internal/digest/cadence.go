package digest

import (
	"fmt"
	"strings"
	"time"
)

// Cadence is the configured periodicity of a digest.
type Cadence int

const (
	CadenceDaily Cadence = iota + 1
	CadenceTwiceWeekly
	CadenceWeekly
)

type cadenceSpec struct {
	name     string
	lookback time.Duration
	interval time.Duration
}

// "biweekly" is read as twice a week, matching the three-day interval the
// digests have always been scheduled with.
var cadenceTable = map[Cadence]cadenceSpec{
	CadenceDaily:       {name: "daily", lookback: 24 * time.Hour, interval: 24 * time.Hour},
	CadenceTwiceWeekly: {name: "twice_weekly", lookback: 72 * time.Hour, interval: 72 * time.Hour},
	CadenceWeekly:      {name: "weekly", lookback: 7 * 24 * time.Hour, interval: 7 * 24 * time.Hour},
}

var cadenceAliases = map[string]Cadence{
	"daily":        CadenceDaily,
	"biweekly":     CadenceTwiceWeekly,
	"twice_weekly": CadenceTwiceWeekly,
	"twice-weekly": CadenceTwiceWeekly,
	"weekly":       CadenceWeekly,
}

// ParseCadence converts a configuration value into a Cadence.
func ParseCadence(s string) (Cadence, error) {
	c, ok := cadenceAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown cadence %q (supported: daily, biweekly, weekly)", s)
	}
	return c, nil
}

// Valid reports whether c is one of the declared cadences.
func (c Cadence) Valid() bool {
	_, ok := cadenceTable[c]
	return ok
}

func (c Cadence) String() string {
	if spec, ok := cadenceTable[c]; ok {
		return spec.name
	}
	return fmt.Sprintf("cadence(%d)", int(c))
}

// Lookback is the window used on the first run of a digest.
func (c Cadence) Lookback() time.Duration {
	return cadenceTable[c].lookback
}

// Interval is the expected time between runs.
func (c Cadence) Interval() time.Duration {
	return cadenceTable[c].interval
}
