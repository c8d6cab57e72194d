// Package duration parses the human friendly durations accepted in config files and flags.
// On top of time.ParseDuration it understands day and week suffixes ("2d", "1w") and "off".
package duration

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/pflag"
)

// Off disables an interval. It is the largest representable duration.
const Off = time.Duration(math.MaxInt64)

var suffixes = []struct {
	suffix string
	unit   time.Duration
}{
	{suffix: "d", unit: 24 * time.Hour},
	{suffix: "w", unit: 7 * 24 * time.Hour},
}

// Parse parses s as a Go duration, a number with a d/w suffix, or "off".
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if s == "off" {
		return Off, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	for _, sf := range suffixes {
		if !strings.HasSuffix(s, sf.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, sf.suffix), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse duration %q", s)
		}
		return time.Duration(n * float64(sf.unit)), nil
	}
	return 0, errors.Errorf("invalid duration %q", s)
}

// Format is the inverse of Parse for values produced by it.
func Format(d time.Duration) string {
	if d == Off {
		return "off"
	}
	for i := len(suffixes) - 1; i >= 0; i-- {
		sf := suffixes[i]
		if d >= sf.unit && d%sf.unit == 0 {
			return strconv.FormatInt(int64(d/sf.unit), 10) + sf.suffix
		}
	}
	return d.String()
}

// Value adapts a *time.Duration to pflag.Value.
type Value time.Duration

func (d *Value) String() string { return Format(time.Duration(*d)) }

func (d *Value) Set(s string) error {
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*d = Value(v)
	return nil
}

func (d *Value) Type() string { return "duration" }

// Var registers a duration flag that accepts Parse syntax.
func Var(f *pflag.FlagSet, p *time.Duration, name string, value time.Duration, usage string) {
	*p = value
	f.Var((*Value)(p), name, usage)
}
