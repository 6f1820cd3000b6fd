package curve

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	// On-disk layout, little endian:
	//   magic [4]byte "TCRV" | version uint16 | count uint16 | count x (float32 temp, float32 duty)
	fileMagic     = "TCRV"
	FormatVersion = 1
	headerSize    = 8
	pointSize     = 8

	// MaxPoints bounds the table so a corrupt count cannot force a huge allocation.
	MaxPoints = 64

	// Headerless files written by earlier releases: five raw points.
	legacyPoints   = 5
	legacyFileSize = legacyPoints * pointSize
)

// LoadResult describes where a loaded table came from.
type LoadResult int

const (
	Loaded   LoadResult = iota // read from the curve file
	Created                    // file was missing, defaults written
	Fallback                   // file unusable, defaults used in memory only
)

func (r LoadResult) String() string {
	switch r {
	case Loaded:
		return "loaded"
	case Created:
		return "created"
	case Fallback:
		return "fallback"
	}

	return fmt.Sprintf("LoadResult(%d)", int(r))
}

type header struct {
	Magic   [4]byte
	Version uint16
	Count   uint16
}

type rawPoint struct {
	TemperatureC float32
	DutyCycle    float32
}

// Store persists a curve table in a single file.
type Store struct {
	path   string
	logger logger.Logger
}

func NewStore(path string, log logger.Logger) *Store {
	return &Store{path: path, logger: log}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted table. A missing file is created with the
// default curve; an unreadable or invalid file is left untouched and the
// default curve is returned instead. Load never fails: the controller
// always gets a usable table.
func (s *Store) Load() (Table, LoadResult) {
	table, err := s.Read()
	if err == nil {
		s.logger.Info().Str("path", s.path).Int("points", len(table)).Msg("Curve file loaded")
		return table, Loaded
	}

	if errors.Is(err, fs.ErrNotExist) {
		if err := s.Save(Default()); err != nil {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to create curve file, using defaults")
			return Default(), Fallback
		}
		s.logger.Info().Str("path", s.path).Msg("Created missing curve file")
		return Default(), Created
	}

	s.logger.Warn().Err(err).Str("path", s.path).Msg("Curve file unusable, using defaults")

	return Default(), Fallback
}

// Read loads and validates the table without any fallback.
func (s *Store) Read() (Table, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}

	table, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}

	return table, nil
}

// Save validates and atomically replaces the curve file.
func (s *Store) Save(table Table) error {
	errFactory := errors.New()

	if err := table.Validate(); err != nil {
		return err
	}

	data, err := Marshal(table)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err).WithData(struct {
			Phase string
			Path  string
		}{
			Phase: "create_directory",
			Path:  dir,
		})
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		tmp.Close()
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if err := tmp.Close(); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

// Marshal encodes table in the current versioned format.
func Marshal(table Table) ([]byte, error) {
	if len(table) > MaxPoints {
		return nil, errors.New().WithData(ErrInvalidTable, fmt.Sprintf("too many points: %d", len(table)))
	}

	// Points that are distinct as float64 may collapse at float32 precision.
	stored := make(Table, len(table))
	for i, p := range table {
		stored[i] = ControlPoint{
			TemperatureC: roundFloat32(float32(p.TemperatureC)),
			DutyCycle:    roundFloat32(float32(p.DutyCycle)),
		}
	}
	if err := stored.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(table)*pointSize)

	h := header{Version: FormatVersion, Count: uint16(len(table))}
	copy(h.Magic[:], fileMagic)
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, errors.New().Wrap(errors.ErrInternal, err)
	}

	for _, p := range table {
		raw := rawPoint{TemperatureC: float32(p.TemperatureC), DutyCycle: float32(p.DutyCycle)}
		if err := binary.Write(&buf, binary.LittleEndian, raw); err != nil {
			return nil, errors.New().Wrap(errors.ErrInternal, err)
		}
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes either the versioned format or the legacy headerless
// five-point layout.
func Unmarshal(data []byte) (Table, error) {
	errFactory := errors.New()

	if len(data) >= headerSize && string(data[:4]) == fileMagic {
		var h header
		if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &h); err != nil {
			return nil, errFactory.Wrap(ErrCorruptFile, err)
		}
		if h.Version != FormatVersion {
			return nil, errFactory.WithData(ErrUnsupportedVer, h.Version)
		}
		if int(h.Count) > MaxPoints {
			return nil, errFactory.WithData(ErrCorruptFile, fmt.Sprintf("point count %d exceeds %d", h.Count, MaxPoints))
		}
		body := data[headerSize:]
		if len(body) != int(h.Count)*pointSize {
			return nil, errFactory.WithData(ErrCorruptFile,
				fmt.Sprintf("expected %d bytes of points, got %d", int(h.Count)*pointSize, len(body)))
		}
		return decodePoints(body, int(h.Count))
	}

	if len(data) == legacyFileSize {
		return decodePoints(data, legacyPoints)
	}

	return nil, errFactory.WithData(ErrCorruptFile, fmt.Sprintf("unrecognized curve file of %d bytes", len(data)))
}

func decodePoints(data []byte, count int) (Table, error) {
	raw := make([]rawPoint, count)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, raw); err != nil {
		return nil, errors.New().Wrap(ErrCorruptFile, err)
	}

	table := make(Table, count)
	for i, r := range raw {
		table[i] = ControlPoint{
			TemperatureC: roundFloat32(r.TemperatureC),
			DutyCycle:    roundFloat32(r.DutyCycle),
		}
	}

	return table, nil
}

// roundFloat32 widens a stored float32 and drops the representation noise
// (0.1f widens to 0.10000000149...), keeping six significant decimals.
func roundFloat32(v float32) float64 {
	const scale = 1e6
	return math.Round(float64(v)*scale) / scale
}
