package zoneminder

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

// StaleMapping is returned when the tmpfs file's inode no longer matches the
// one recorded at open time: the host restarted the publisher and this
// process is holding a handle to an orphaned file.
type StaleMapping struct {
	Path string
}

func (e *StaleMapping) Error() string {
	return fmt.Sprintf("shm mapping for %s is stale, must reconnect", e.Path)
}

// LayoutMismatch is raised when a typed field access disagrees with the
// descriptor's recorded (size, alignment) for that field. It always
// indicates the host's layout changed underneath a type this reader was
// built against, which is a programmer-facing ABI bug, not a runtime
// condition the pipeline can recover from — callers are expected to let it
// panic rather than catch it.
type LayoutMismatch struct {
	Field               string
	WantSize, GotSize   int
	WantAlign, GotAlign int
}

func (e *LayoutMismatch) Error() string {
	return fmt.Sprintf(
		"shm field %s: type mismatch (wanted size=%d align=%d, descriptor has size=%d align=%d)",
		e.Field, e.WantSize, e.WantAlign, e.GotSize, e.GotAlign,
	)
}

// ShmFile owns a positional file descriptor over the host's tmpfs monitor
// region. It never memory-maps the file: every access is a pread/pwrite so
// the kernel, not this process, arbitrates visibility against the
// unsynchronised publisher on the other end.
type ShmFile struct {
	path   string
	file   *os.File
	ino    uint64
	layout *Layout
}

// OpenShmFile opens path read/write and records its inode for later
// staleness checks.
func OpenShmFile(path string, layout *Layout) (*ShmFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening shm file %s: %w", path, err)
	}
	var st syscall.Stat_t
	if err := syscall.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, fmt.Errorf("stat shm file %s: %w", path, err)
	}
	return &ShmFile{path: path, file: f, ino: st.Ino, layout: layout}, nil
}

// Close releases the underlying file descriptor.
func (s *ShmFile) Close() error {
	return s.file.Close()
}

// CheckStale stats the original path and fails with StaleMapping if the
// inode no longer matches the one recorded at open time. ZM is fairly
// diligent about flipping SharedData.valid to 0 before a restart, but this
// is a best-effort secondary guard, not a substitute for it.
func (s *ShmFile) CheckStale() error {
	var st syscall.Stat_t
	if err := syscall.Stat(s.path, &st); err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	if st.Ino != s.ino {
		return &StaleMapping{Path: s.path}
	}
	return nil
}

func (s *ShmFile) lookup(name string) Field {
	f, ok := s.layout.Field(name)
	if !ok {
		panic(fmt.Sprintf("shm field not found in layout: %s", name))
	}
	return f
}

func typecheck[T any](field Field) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	align := int(unsafe.Alignof(zero))
	if field.Size != size || field.Alignment != align {
		panic(&LayoutMismatch{
			Field:     field.Name,
			WantSize:  size,
			WantAlign: align,
			GotSize:   field.Size,
			GotAlign:  field.Alignment,
		})
	}
}

// ReadField reads the named field, positionally, and reinterprets the raw
// bytes as T. It panics with LayoutMismatch if the descriptor's recorded
// (size, alignment) for the field disagrees with T.
func ReadField[T any](s *ShmFile, name string) (T, error) {
	var out T
	field := s.lookup(name)
	typecheck[T](field)

	buf := unsafe.Slice((*byte)(unsafe.Pointer(&out)), unsafe.Sizeof(out))
	if _, err := s.file.ReadAt(buf, int64(field.Offset)); err != nil {
		return out, fmt.Errorf("reading field %s: %w", name, err)
	}
	return out, nil
}

// WriteField writes v to the named field positionally. It panics with
// LayoutMismatch under the same conditions as ReadField.
func WriteField[T any](s *ShmFile, name string, v T) error {
	field := s.lookup(name)
	typecheck[T](field)

	buf := unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v))
	if _, err := s.file.WriteAt(buf, int64(field.Offset)); err != nil {
		return fmt.Errorf("writing field %s: %w", name, err)
	}
	return nil
}

// WriteString writes s followed by a single zero terminator into the named
// byte-array field. The field must have capacity strictly greater than
// len(s). Bytes beyond the terminator are left untouched — callers that
// need a full erase (e.g. resetting a trigger field) must zero the field
// first.
func (s *ShmFile) WriteString(name, value string) error {
	field := s.lookup(name)
	terminatedLen := len(value) + 1
	if field.Size < terminatedLen {
		return fmt.Errorf("field %s has capacity %d, too small for %d-byte string plus terminator", name, field.Size, terminatedLen)
	}
	buf := make([]byte, terminatedLen)
	copy(buf, value)
	buf[len(value)] = 0
	if _, err := s.file.WriteAt(buf, int64(field.Offset)); err != nil {
		return fmt.Errorf("writing string field %s: %w", name, err)
	}
	return nil
}

// ZeroField overwrites the named field's entire capacity with zero bytes,
// used to fully erase trigger_cause/trigger_text/trigger_showtext before
// resetting a trigger (WriteString alone only erases up to its terminator).
func (s *ShmFile) ZeroField(name string) error {
	field := s.lookup(name)
	buf := make([]byte, field.Size)
	if _, err := s.file.WriteAt(buf, int64(field.Offset)); err != nil {
		return fmt.Errorf("zeroing field %s: %w", name, err)
	}
	return nil
}

// FieldOffset exposes a resolved field's absolute byte offset, used by
// ImageStream to find VideoStoreData::size, from which (together with the
// size value the publisher stored there) it derives the image ring's
// location.
func (s *ShmFile) FieldOffset(name string) (int, error) {
	f, ok := s.layout.Field(name)
	if !ok {
		return 0, fmt.Errorf("field not found in layout: %s", name)
	}
	return f.Offset, nil
}

// ReadAt exposes a raw positional read for the image ring, which has no
// named field (its offset is computed dynamically from image_buffer_count).
func (s *ShmFile) ReadAt(buf []byte, offset int64) error {
	_, err := s.file.ReadAt(buf, offset)
	return err
}
