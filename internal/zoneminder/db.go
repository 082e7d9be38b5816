package zoneminder

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/aidect/zmsidecar/internal/imaging"
)

// ConfigDB is a thin wrapper over the host's relational configuration
// store, exposing exactly the reads and writes this sidecar needs: monitor
// settings, the zone's tuning, event notes, and — for the offline re-analyse
// path — a stored event's video path.
type ConfigDB struct {
	db *sql.DB
}

// OpenConfigDB dials the host's MySQL-compatible database using the
// standard library's database/sql pool over the mysql driver.
func OpenConfigDB(host, dbName, user, pass string) (*ConfigDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", user, pass, host, dbName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening config database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to config database: %w", err)
	}
	return &ConfigDB{db: db}, nil
}

// Close releases the database connection pool.
func (c *ConfigDB) Close() error {
	return c.db.Close()
}

// MonitorSettings mirrors the subset of the Monitors table this sidecar
// reads: frame geometry, the image ring's slot count, and an optional
// analysis rate cap.
type MonitorSettings struct {
	Name             string
	StorageID        uint32
	Width            int
	Height           int
	ImageBufferCount int32
	AnalysisFPSLimit *float64
}

// MonitorSettings reads one row from Monitors by id.
func (c *ConfigDB) MonitorSettings(monitorID uint32) (MonitorSettings, error) {
	var s MonitorSettings
	row := c.db.QueryRow(
		"SELECT Name, StorageId, Width, Height, ImageBufferCount, AnalysisFPSLimit FROM Monitors WHERE Id = ?",
		monitorID,
	)
	if err := row.Scan(&s.Name, &s.StorageID, &s.Width, &s.Height, &s.ImageBufferCount, &s.AnalysisFPSLimit); err != nil {
		return MonitorSettings{}, fmt.Errorf("reading monitor %d: %w", monitorID, err)
	}
	return s, nil
}

// ZoneShape is the ordered sequence of (x,y) vertices parsed from a zone's
// Coords column.
type ZoneShape []Point

// Point is an integer 2D coordinate.
type Point struct {
	X, Y int
}

// Rect is an axis-aligned bounding box in frame coordinates.
type Rect struct {
	X, Y, W, H int
}

// BoundingBox returns the shape's axis-aligned bounding box.
func (shape ZoneShape) BoundingBox() (Rect, error) {
	if len(shape) < 3 {
		return Rect{}, fmt.Errorf("zone polygon has %d points, need at least 3", len(shape))
	}
	minX, maxX := shape[0].X, shape[0].X
	minY, maxY := shape[0].Y, shape[0].Y
	for _, p := range shape[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, nil
}

// ZoneConfig is the parsed "aidect" zone: its polygon plus whatever tuning
// keys were encoded into the zone's Name field.
type ZoneConfig struct {
	Shape     ZoneShape
	Size      *int
	Threshold *float64
	Trigger   *uint32
	FPS       *int
	MinArea   *int
}

const defaultZoneSize = 256
const defaultZoneThreshold = 0.5

// EffectiveSize returns Size if set, else the documented default.
func (z ZoneConfig) EffectiveSize() int {
	if z.Size != nil {
		return *z.Size
	}
	return defaultZoneSize
}

// EffectiveThreshold returns Threshold if set, else the documented default.
func (z ZoneConfig) EffectiveThreshold() float64 {
	if z.Threshold != nil {
		return *z.Threshold
	}
	return defaultZoneThreshold
}

// EffectiveMinArea returns MinArea if set, else 0 (no minimum-area filter).
func (z ZoneConfig) EffectiveMinArea() int {
	if z.MinArea != nil {
		return *z.MinArea
	}
	return 0
}

// EffectiveTriggerMonitor returns the monitor id whose event this zone's
// detections should extend: Trigger if set, else selfID.
func (z ZoneConfig) EffectiveTriggerMonitor(selfID uint32) uint32 {
	if z.Trigger != nil {
		return *z.Trigger
	}
	return selfID
}

// String renders the zone back into its Name-field form, "aidect" followed
// by the tuning keys that were explicitly set. Parsing the result yields an
// equal ZoneConfig (modulo the polygon, which lives in Coords, not Name).
func (z ZoneConfig) String() string {
	parts := []string{"aidect"}
	if z.Size != nil {
		parts = append(parts, fmt.Sprintf("Size=%d", *z.Size))
	}
	if z.Threshold != nil {
		parts = append(parts, fmt.Sprintf("Threshold=%d", int(*z.Threshold*100)))
	}
	if z.Trigger != nil {
		parts = append(parts, fmt.Sprintf("Trigger=%d", *z.Trigger))
	}
	if z.FPS != nil {
		parts = append(parts, fmt.Sprintf("FPS=%d", *z.FPS))
	}
	if z.MinArea != nil {
		parts = append(parts, fmt.Sprintf("MinArea=%d", *z.MinArea))
	}
	return strings.Join(parts, " ")
}

// Crop extracts the zone's bounding-box sub-image from a full frame. It
// returns the cropped image alongside the bounding box in full-frame
// coordinates, which the caller adds back onto any detection's bounding box
// (detect.Filter's cropOffset) to translate it out of the crop's coordinate
// frame.
func (z ZoneConfig) Crop(img imaging.Image) (imaging.Image, Rect, error) {
	box, err := z.Shape.BoundingBox()
	if err != nil {
		return imaging.Image{}, Rect{}, err
	}
	cropped, err := imaging.Crop(img, box.X, box.Y, box.W, box.H)
	if err != nil {
		return imaging.Image{}, Rect{}, err
	}
	return cropped, box, nil
}

// Zone fetches the monitor's single "aidect*"-named zone. Exactly one such
// row is expected; zero is a fatal configuration error naming the monitor.
func (c *ConfigDB) Zone(monitorID uint32) (ZoneConfig, error) {
	row := c.db.QueryRow(`SELECT Name, Coords FROM Zones WHERE MonitorId = ? AND Name LIKE "aidect%"`, monitorID)
	var name, coords string
	if err := row.Scan(&name, &coords); err != nil {
		if err == sql.ErrNoRows {
			return ZoneConfig{}, fmt.Errorf("no aidect zone found for monitor %d", monitorID)
		}
		return ZoneConfig{}, fmt.Errorf("reading zone for monitor %d: %w", monitorID, err)
	}
	zone := parseZoneName(name)
	zone.Shape = parseZoneCoords(coords)
	return zone, nil
}

func parseZoneName(name string) ZoneConfig {
	var zone ZoneConfig
	fields := strings.Fields(name)
	if len(fields) <= 1 {
		return zone
	}
	for _, kv := range fields[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "Size":
			if n, err := strconv.Atoi(value); err == nil {
				zone.Size = &n
			}
		case "Threshold":
			if pct, err := strconv.ParseFloat(value, 64); err == nil {
				ratio := pct / 100.0
				zone.Threshold = &ratio
			}
		case "Trigger":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil {
				id := uint32(n)
				zone.Trigger = &id
			}
		case "FPS":
			if n, err := strconv.Atoi(value); err == nil {
				zone.FPS = &n
			}
		case "MinArea":
			if n, err := strconv.Atoi(value); err == nil {
				zone.MinArea = &n
			}
		}
	}
	return zone
}

func parseZoneCoords(coords string) ZoneShape {
	var shape ZoneShape
	for _, pair := range strings.Fields(coords) {
		x, y, ok := strings.Cut(pair, ",")
		if !ok {
			continue
		}
		xi, errX := strconv.Atoi(strings.TrimSpace(x))
		yi, errY := strconv.Atoi(strings.TrimSpace(y))
		if errX != nil || errY != nil {
			continue
		}
		shape = append(shape, Point{X: xi, Y: yi})
	}
	return shape
}

// UpdateEventNotes writes the event's one-line description. Failures here
// are transient per the host's own error model: the alarm already stands,
// so a write failure is logged and swallowed by the caller, not fatal.
func (c *ConfigDB) UpdateEventNotes(eventID uint64, notes string) error {
	_, err := c.db.Exec("UPDATE Events SET Notes = ? WHERE Id = ?", notes, eventID)
	if err != nil {
		return fmt.Errorf("updating notes for event %d: %w", eventID, err)
	}
	return nil
}

// StorageScheme controls how a stored event's on-disk directory is derived
// from its start time.
type StorageScheme int

const (
	SchemeDeep StorageScheme = iota
	SchemeMedium
	SchemeShallow
)

func parseStorageScheme(s string) (StorageScheme, error) {
	switch s {
	case "Deep":
		return SchemeDeep, nil
	case "Medium":
		return SchemeMedium, nil
	case "Shallow":
		return SchemeShallow, nil
	default:
		return 0, fmt.Errorf("invalid/unknown storage scheme %q", s)
	}
}

// Storage is the subset of the Storage table needed to derive a path.
type Storage struct {
	Path   string
	Type   string
	Scheme StorageScheme
}

// StoredEvent is a host-recorded video segment, used only by the offline
// "re-analyse an existing event" mode (the CLI's `event` subcommand). Named
// StoredEvent rather than HostEvent to avoid ambiguity with
// MonitorState.LastEventID, which names the same concept from the live
// trigger handshake's point of view.
type StoredEvent struct {
	ID            uint64
	MonitorID     uint32
	StartDateTime string
	DefaultVideo  string
	Storage       Storage
}

var dateSeparators = regexp.MustCompile(`[-: ]`)

// VideoPath derives the on-disk path of the event's default recording from
// its storage scheme, mirroring the host's own directory conventions.
func (e StoredEvent) VideoPath() (string, error) {
	if e.Storage.Type != "local" {
		return "", fmt.Errorf("unsupported storage type %q for event %d", e.Storage.Type, e.ID)
	}

	var eventPath string
	switch e.Storage.Scheme {
	case SchemeDeep:
		eventPath = fmt.Sprintf("%s/%d", dateSeparators.ReplaceAllString(e.StartDateTime, "/"), e.ID)
	case SchemeMedium:
		datePart, _, _ := strings.Cut(e.StartDateTime, " ")
		eventPath = fmt.Sprintf("%s/%d", datePart, e.ID)
	case SchemeShallow:
		eventPath = fmt.Sprintf("%d", e.ID)
	default:
		return "", fmt.Errorf("event %d: unknown storage scheme", e.ID)
	}

	monitorPath := strconv.FormatUint(uint64(e.MonitorID), 10)
	return filepath.Join(e.Storage.Path, monitorPath, eventPath, e.DefaultVideo), nil
}

// Event fetches an event row by id, along with its storage row, for the
// offline re-analysis path.
func (c *ConfigDB) Event(eventID uint64) (StoredEvent, error) {
	var storageID uint64
	if err := c.db.QueryRow("SELECT StorageId FROM Events WHERE Id = ?", eventID).Scan(&storageID); err != nil {
		return StoredEvent{}, fmt.Errorf("reading event %d: %w", eventID, err)
	}

	storage, err := c.storageByID(storageID)
	if err != nil {
		return StoredEvent{}, err
	}

	var e StoredEvent
	e.ID = eventID
	e.Storage = storage
	row := c.db.QueryRow("SELECT MonitorId, DefaultVideo, CAST(StartDateTime AS CHAR) FROM Events WHERE Id = ?", eventID)
	if err := row.Scan(&e.MonitorID, &e.DefaultVideo, &e.StartDateTime); err != nil {
		return StoredEvent{}, fmt.Errorf("reading event %d: %w", eventID, err)
	}
	return e, nil
}

func (c *ConfigDB) storageByID(storageID uint64) (Storage, error) {
	var s Storage
	var scheme string
	row := c.db.QueryRow("SELECT Path, Type, Scheme FROM Storage WHERE Id = ?", storageID)
	if err := row.Scan(&s.Path, &s.Type, &scheme); err != nil {
		return Storage{}, fmt.Errorf("reading storage %d: %w", storageID, err)
	}
	parsedScheme, err := parseStorageScheme(scheme)
	if err != nil {
		return Storage{}, err
	}
	s.Scheme = parsedScheme
	return s, nil
}
