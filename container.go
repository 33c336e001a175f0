package media

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ProbeSize is the number of header bytes read to detect a container.
const ProbeSize = 4096

// ContainerReader splits a container into packets. Packet timestamps are in
// the timebase of the stream they belong to.
type ContainerReader interface {
	// Streams lists the elementary streams; a packet's StreamIndex indexes it.
	Streams() []CodecParameters
	// ReadPacket returns the next packet or io.EOF.
	ReadPacket() (*Packet, error)
	Close() error
}

// OutputStream is a stream registered with a ContainerWriter.
type OutputStream struct {
	Index    int
	Params   CodecParameters
	Timebase Timebase // Timebase packets must carry when written
}

// ContainerWriter interleaves packets into a container. Streams are added
// before the header is written; the trailer finalizes the output.
type ContainerWriter interface {
	AddStream(p CodecParameters) (OutputStream, error)
	WriteHeader() error
	WritePacket(pkt *Packet) error
	WriteTrailer() error
}

// ContainerFormat describes one registered container.
type ContainerFormat struct {
	Name       string
	Extensions []string // Lower case, with leading dot

	// Probe reports whether header (up to ProbeSize bytes) belongs to this format.
	Probe func(header []byte) bool

	NewReader func(s RandomAccessStream) (ContainerReader, error)
	NewWriter func(w io.WriteSeeker) (ContainerWriter, error)
}

var (
	containersMu sync.RWMutex
	containers   []ContainerFormat
)

// RegisterContainer adds a container format. Later registrations with the
// same name replace earlier ones.
func RegisterContainer(f ContainerFormat) {
	containersMu.Lock()
	defer containersMu.Unlock()
	for i, c := range containers {
		if c.Name == f.Name {
			containers[i] = f
			return
		}
	}
	containers = append(containers, f)
}

// ContainerFormats returns the names of all registered containers.
func ContainerFormats() []string {
	containersMu.RLock()
	defer containersMu.RUnlock()
	names := make([]string, 0, len(containers))
	for _, c := range containers {
		names = append(names, c.Name)
	}
	slices.Sort(names)
	return names
}

// ProbeContainer detects the container from its first bytes.
func ProbeContainer(header []byte) (ContainerFormat, error) {
	containersMu.RLock()
	defer containersMu.RUnlock()
	for _, c := range containers {
		if c.Probe != nil && c.Probe(header) {
			return c, nil
		}
	}
	return ContainerFormat{}, ErrUnknownFormat
}

// ContainerByName looks up a container by name.
func ContainerByName(name string) (ContainerFormat, error) {
	containersMu.RLock()
	defer containersMu.RUnlock()
	for _, c := range containers {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return ContainerFormat{}, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// ContainerForPath picks the output container from the file extension.
func ContainerForPath(path string) (ContainerFormat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	containersMu.RLock()
	defer containersMu.RUnlock()
	for _, c := range containers {
		if slices.Contains(c.Extensions, ext) {
			return c, nil
		}
	}
	return ContainerFormat{}, fmt.Errorf("%w: extension %q", ErrUnknownFormat, ext)
}

func hasMagic(header []byte, off int, magic string) bool {
	return len(header) >= off+len(magic) && bytes.Equal(header[off:off+len(magic)], []byte(magic))
}
