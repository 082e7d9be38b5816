package zoneminder

import (
	"fmt"
	"time"

	"github.com/aidect/zmsidecar/internal/imaging"
)

// timevalSize is sizeof(struct timeval) on a 64-bit Linux host: two 8-byte
// platform longs (tv_sec, tv_usec). The timestamp ring is skipped over, not
// read — this reader has no use for per-frame capture times — but its
// extent must still be accounted for to find the image ring that follows.
const timevalSize = 16

// imagePollInterval is how long ImageStream sleeps between polls of
// last_write_index when no new frame is available.
const imagePollInterval = 5 * time.Millisecond

// ImageStream derives the dynamic offset of the image ring from the
// monitor's image_buffer_count (supplied by ConfigDB, since the shared
// memory region itself doesn't declare it) and yields the newest unread
// frame on each call to Next, skipping any frames the publisher wrote in
// between — this is deliberate: a detector that falls behind should see
// the freshest frame, not queue up stale ones.
type ImageStream struct {
	client           *MonitorClient
	imageBufferCount int32
	imagesOffset     int64
	width, height    int

	lastReadIndex int32
}

// NewImageStream computes the image ring's offset. The descriptor only
// declares VideoStoreData's size field, not the struct's full contents, so
// its true extent cannot come from the Layout: the publisher stores it in
// that field's value, which is read back here. width and height come from
// MonitorSettings (ConfigDB), since the shared memory region itself carries
// no frame dimensions, only the flat imagesize byte count.
func NewImageStream(client *MonitorClient, imageBufferCount int32, width, height int) (*ImageStream, error) {
	videoStoreOffset, err := client.shm.FieldOffset(syntheticVideoStoreSize)
	if err != nil {
		return nil, err
	}
	videoStoreSize, err := ReadField[uint32](client.shm, syntheticVideoStoreSize)
	if err != nil {
		return nil, err
	}
	if videoStoreSize == 0 {
		return nil, fmt.Errorf("shm declares VideoStoreData size 0, region not initialised by publisher")
	}

	timestampsOffset := videoStoreOffset + int(videoStoreSize)
	imagesOffset := timestampsOffset + int(imageBufferCount)*timevalSize
	imagesOffset = alignUp(imagesOffset, 64)

	return &ImageStream{
		client:           client,
		imageBufferCount: imageBufferCount,
		imagesOffset:     int64(imagesOffset),
		width:            width,
		height:           height,
		lastReadIndex:    imageBufferCount,
	}, nil
}

// Next blocks (by polling, not by waiting on the publisher) until a frame
// newer than the last one returned is available, then reads it whole. The
// stream never returns the sentinel index as a real frame, and it skips
// forward to the newest slot rather than draining a backlog: frame skipping
// under load is intentional, not a bug.
func (s *ImageStream) Next() (imaging.Image, MonitorState, error) {
	for {
		state, err := s.client.Read()
		if err != nil {
			return imaging.Image{}, MonitorState{}, err
		}

		w := state.LastWriteIndex
		if w == s.lastReadIndex || w == s.imageBufferCount {
			time.Sleep(imagePollInterval)
			continue
		}

		s.lastReadIndex = w
		byteOffset := s.imagesOffset + int64(state.ImageSize)*int64(w)

		buf := make([]byte, state.ImageSize)
		if err := s.client.shm.ReadAt(buf, byteOffset); err != nil {
			return imaging.Image{}, MonitorState{}, err
		}

		expected := s.width * s.height * state.Format.Channels()
		if expected != 0 && expected != len(buf) {
			return imaging.Image{}, MonitorState{}, fmt.Errorf(
				"image ring slot %d: expected %d bytes for %dx%d %s, shm declares %d",
				w, expected, s.width, s.height, state.Format, len(buf),
			)
		}

		return imaging.Image{
			Width:  s.width,
			Height: s.height,
			Format: state.Format,
			Pixels: buf,
		}, state, nil
	}
}
