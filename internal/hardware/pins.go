package hardware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Pins maps logical lines to GPIO offsets on one chip.
type Pins struct {
	Chip      string `toml:"chip"`
	Data0     int    `toml:"data0"`
	Data1     int    `toml:"data1"`
	Lock      int    `toml:"lock"`
	Indicator int    `toml:"indicator"`
	Sounder   int    `toml:"sounder"`

	LockActiveLow      bool `toml:"lock_active_low"`
	IndicatorActiveLow bool `toml:"indicator_active_low"`
	SounderActiveLow   bool `toml:"sounder_active_low"`
}

// DefaultPins is the wiring of the reference build: reader on GPIO14/15,
// lock relay on GPIO4.
func DefaultPins() Pins {
	return Pins{
		Chip:      "gpiochip0",
		Data0:     14,
		Data1:     15,
		Lock:      4,
		Indicator: 27,
		Sounder:   22,
	}
}

func (p Pins) Validate() error {
	if strings.TrimSpace(p.Chip) == "" {
		return errors.New("pins: chip is required")
	}
	seen := make(map[int]string, 5)
	for _, l := range []struct {
		name   string
		offset int
	}{
		{"data0", p.Data0},
		{"data1", p.Data1},
		{"lock", p.Lock},
		{"indicator", p.Indicator},
		{"sounder", p.Sounder},
	} {
		if l.offset < 0 {
			return fmt.Errorf("pins: %s offset %d is negative", l.name, l.offset)
		}
		if other, dup := seen[l.offset]; dup {
			return fmt.Errorf("pins: %s and %s share offset %d", other, l.name, l.offset)
		}
		seen[l.offset] = l.name
	}
	return nil
}

func (p Pins) offset(out Output) int {
	switch out {
	case OutputLock:
		return p.Lock
	case OutputIndicator:
		return p.Indicator
	default:
		return p.Sounder
	}
}

func (p Pins) activeLow(out Output) bool {
	switch out {
	case OutputLock:
		return p.LockActiveLow
	case OutputIndicator:
		return p.IndicatorActiveLow
	default:
		return p.SounderActiveLow
	}
}

const pinsHeader = `# lovepotion pin map. Offsets are line numbers on the GPIO chip.
# Written with defaults on first run; edit and restart to rewire.

`

// LoadOrCreatePins reads the pin map at path. If the file does not exist
// the defaults are written there first and created is true. Keys missing
// from an existing file keep their default values.
func LoadOrCreatePins(path string) (pins Pins, created bool, err error) {
	pins = DefaultPins()

	_, err = toml.DecodeFile(path, &pins)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		if err := writePins(path, pins); err != nil {
			return Pins{}, false, err
		}
		created = true
	default:
		return Pins{}, false, fmt.Errorf("read pin config %s: %w", path, err)
	}

	if err := pins.Validate(); err != nil {
		return Pins{}, false, fmt.Errorf("pin config %s: %w", path, err)
	}
	return pins, created, nil
}

func writePins(path string, pins Pins) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir pin config dir: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(pinsHeader)
	if err := toml.NewEncoder(&sb).Encode(pins); err != nil {
		return fmt.Errorf("encode pin config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write pin config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write pin config: %w", err)
	}
	return nil
}
