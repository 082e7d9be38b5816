// Package zoneminder implements the shared-memory ABI, trigger handshake,
// image ring and ConfigDB access that couple this sidecar to the host.
package zoneminder

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Scalar holds the size and alignment of a primitive ABI type, mirroring the
// platform's own sizing of the corresponding C type.
type Scalar struct {
	Size      int
	Alignment int
}

func (s Scalar) arrayOf(n int) Scalar {
	return Scalar{Size: s.Size * n, Alignment: s.Alignment}
}

var basicScalars = map[string]Scalar{
	"uint8":    {1, 1},
	"int8":     {1, 1},
	"uint32":   {4, 4},
	"int32":    {4, 4},
	"uint64":   {8, 8},
	"int64":    {8, 8},
	"float":    {4, 4},
	"double":   {8, 8},
	"time_t64": {8, 8},
}

// UnknownScalarError is returned when the descriptor names a scalar token
// this reader has no definition for. Surfacing it requires a code update,
// not a configuration fix, but it is still reported as a ConfigError so the
// process exits cleanly rather than panicking on untrusted host text.
type UnknownScalarError struct {
	Token  string
	Struct string
	Field  string
}

func (e *UnknownScalarError) Error() string {
	return fmt.Sprintf("layout descriptor: unhandled ABI type %q for %s::%s", e.Token, e.Struct, e.Field)
}

func parseTypeToken(token, structName, fieldName string) (Scalar, error) {
	basic, arraySpec, hasArray := strings.Cut(token, "[")
	scalar, ok := basicScalars[basic]
	if !ok {
		return Scalar{}, &UnknownScalarError{Token: token, Struct: structName, Field: fieldName}
	}
	if !hasArray {
		return scalar, nil
	}
	if !strings.HasSuffix(arraySpec, "]") {
		return Scalar{}, fmt.Errorf("layout descriptor: malformed array type %q in %s::%s", token, structName, fieldName)
	}
	n, err := strconv.Atoi(arraySpec[:len(arraySpec)-1])
	if err != nil || n < 1 {
		return Scalar{}, fmt.Errorf("layout descriptor: bad array size in %q for %s::%s", token, structName, fieldName)
	}
	return scalar.arrayOf(n), nil
}

// Field describes one named member of the shared memory region, with its
// absolute byte offset within the region (not relative to its struct).
type Field struct {
	Name      string
	Offset    int
	Size      int
	Alignment int
}

// Struct describes one contiguous struct within the shared memory region.
type Struct struct {
	Name   string
	Offset int
	Size   int
	Fields []Field
}

// Layout is the resolved, immutable table of struct/field offsets computed
// from the host's layout descriptor. It is built once at process start and
// never mutated afterward.
type Layout struct {
	Structs []Struct
	byName  map[string]Field
}

func alignUp(offset, alignment int) int {
	if offset%alignment == 0 {
		return offset
	}
	return offset + alignment - (offset % alignment)
}

var (
	reMemData   = regexp.MustCompile(`(?s)\$mem_data\s*=\s*\{\n(.*?)\n\};`)
	reStructDef = regexp.MustCompile(`\w+\s*=>\s*\{\s*type=>'(\w+)'.*?'?contents'?\s*=>\s*\{\s*$`)
	reFieldDef  = regexp.MustCompile(`(\w+)\s*=>\s*\{\s*type=>'([a-z0-9_\[\]]+)'`)
	reEndDef    = regexp.MustCompile(`^\s*end\s*=>`)
)

type rawField struct {
	name  string
	token string
}

type rawStruct struct {
	name   string
	fields []rawField
}

// ParseLayout reads the host's layout descriptor (the shm section of its
// Memory.pm-style definition file) and resolves it into a Layout. Structs
// are laid out back to back exactly as they appear in declaration order;
// a synthetic VideoStoreData::size field is appended, since the descriptor
// never declares the struct that owns it but this reader must still locate
// the image ring that follows it. The struct's true extent is not knowable
// from the descriptor at all — the publisher stores it in that field's
// value, which ImageStream reads back at connect time.
func ParseLayout(r io.Reader) (*Layout, error) {
	contents, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading layout descriptor: %w", err)
	}

	m := reMemData.FindSubmatch(contents)
	if m == nil {
		return nil, fmt.Errorf("layout descriptor: no $mem_data block found")
	}

	structs, err := parseStructs(string(m[1]))
	if err != nil {
		return nil, err
	}

	return resolve(structs)
}

func parseStructs(body string) ([]rawStruct, error) {
	lines := strings.Split(body, "\n")
	var structs []rawStruct

	i := 0
	for i < len(lines) {
		line := strings.TrimRight(lines[i], "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			i++
			continue
		}
		if reEndDef.MatchString(trimmed) {
			break
		}
		sm := reStructDef.FindStringSubmatch(trimmed)
		if sm == nil {
			return nil, fmt.Errorf("layout descriptor: could not parse struct definition: %q", trimmed)
		}
		st := rawStruct{name: sm[1]}
		i++
		for i < len(lines) {
			fline := strings.TrimSpace(lines[i])
			i++
			if fline == "}" {
				continue
			}
			if fline == "}," {
				break
			}
			fm := reFieldDef.FindStringSubmatch(fline)
			if fm == nil {
				return nil, fmt.Errorf("layout descriptor: could not parse field definition: %q", fline)
			}
			st.fields = append(st.fields, rawField{name: fm[1], token: fm[2]})
		}
		structs = append(structs, st)
	}

	return structs, nil
}

// syntheticVideoStoreSize is the field name this reader injects because the
// descriptor never declares VideoStoreData; see ParseLayout.
const syntheticVideoStoreSize = "VideoStoreData::size"

func resolve(raw []rawStruct) (*Layout, error) {
	layout := &Layout{byName: map[string]Field{}}
	cursor := 0

	for _, rs := range raw {
		structStart := -1
		var fields []Field
		for _, rf := range rs.fields {
			scalar, err := parseTypeToken(rf.token, rs.name, rf.name)
			if err != nil {
				return nil, err
			}
			offset := alignUp(cursor, scalar.Alignment)
			if structStart == -1 {
				structStart = offset
			}
			cursor = offset + scalar.Size
			field := Field{
				Name:      rs.name + "::" + rf.name,
				Offset:    offset,
				Size:      scalar.Size,
				Alignment: scalar.Alignment,
			}
			layout.byName[field.Name] = field
			fields = append(fields, field)
		}
		if structStart == -1 {
			structStart = cursor
		}
		layout.Structs = append(layout.Structs, Struct{
			Name:   rs.name,
			Offset: structStart,
			Size:   cursor - structStart,
			Fields: fields,
		})
	}

	trigger, ok := layout.structByName("TriggerData")
	if !ok {
		return nil, fmt.Errorf("layout descriptor: missing required struct TriggerData")
	}
	sizeOffset := alignUp(trigger.Offset+trigger.Size, basicScalars["uint32"].Alignment)
	layout.byName[syntheticVideoStoreSize] = Field{
		Name:      syntheticVideoStoreSize,
		Offset:    sizeOffset,
		Size:      basicScalars["uint32"].Size,
		Alignment: basicScalars["uint32"].Alignment,
	}
	// Size here covers only the injected field; VideoStoreData's real
	// extent lives in the field's runtime value, not in the Layout.
	layout.Structs = append(layout.Structs, Struct{
		Name:   "VideoStoreData",
		Offset: sizeOffset,
		Size:   basicScalars["uint32"].Size,
		Fields: []Field{layout.byName[syntheticVideoStoreSize]},
	})

	return layout, nil
}

func (l *Layout) structByName(name string) (Struct, bool) {
	for _, s := range l.Structs {
		if s.Name == name {
			return s, true
		}
	}
	return Struct{}, false
}

// Field looks up a qualified "Struct::field" name in the resolved layout.
func (l *Layout) Field(name string) (Field, bool) {
	f, ok := l.byName[name]
	return f, ok
}

// StructSize returns the size of a struct's declared fields. For
// VideoStoreData this covers only the injected size field — the struct's
// real extent is read from the region at runtime.
func (l *Layout) StructSize(name string) (int, bool) {
	s, ok := l.structByName(name)
	return s.Size, ok
}

// StructOffset returns the absolute offset of a struct's first field.
func (l *Layout) StructOffset(name string) (int, bool) {
	s, ok := l.structByName(name)
	return s.Offset, ok
}
