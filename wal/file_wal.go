package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	// WAL file settings
	walFilePerm       = 0600
	walDirPerm        = 0700
	maxMsgSize        = 10 * 1024 * 1024 // 10MB max message size
	defaultBufSize    = 64 * 1024        // 64KB buffer
	defaultMaxSegSize = 64 * 1024 * 1024 // 64MB default segment size

	// Default pool buffer size for decoder
	defaultPoolBufSize = 4096

	segmentPrefix = "wal"
)

// Byte pool to reduce GC pressure in the decoder. Buffers are reused for
// reading message data, then copied for the final Message.
var decoderPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, defaultPoolBufSize)
		return &buf
	},
}

// FileWAL is a file-based WAL implementation
type FileWAL struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	buf  *bufio.Writer
	enc  *encoder

	group        *Group
	started      bool
	segmentIndex int   // Current segment index
	segmentSize  int64 // Current segment size in bytes
	maxSegSize   int64 // Maximum segment size before rotation
}

// NewFileWAL creates a new file-based WAL
func NewFileWAL(dir string) (*FileWAL, error) {
	return NewFileWALWithOptions(dir, defaultMaxSegSize)
}

// NewFileWALWithOptions creates a new file-based WAL with custom max segment size
func NewFileWALWithOptions(dir string, maxSegSize int64) (*FileWAL, error) {
	if err := os.MkdirAll(dir, walDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	if maxSegSize <= 0 {
		maxSegSize = defaultMaxSegSize
	}

	return &FileWAL{
		dir:        dir,
		maxSegSize: maxSegSize,
		group: &Group{
			Dir:     dir,
			Prefix:  segmentPrefix,
			MaxSize: maxSegSize,
		},
	}, nil
}

// Start opens the newest segment for appending
func (w *FileWAL) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	segments := findSegments(w.dir)
	if len(segments) > 0 {
		w.group.MinIndex = segments[0]
		w.segmentIndex = segments[len(segments)-1]
	}
	w.group.MaxIndex = w.segmentIndex

	if err := w.openSegment(w.segmentIndex); err != nil {
		return err
	}

	w.started = true
	return nil
}

// segmentPath returns the file path for a segment index
func (w *FileWAL) segmentPath(index int) string {
	return segmentPath(w.dir, index)
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%05d", segmentPrefix, index))
}

// openSegment opens a segment file for writing
func (w *FileWAL) openSegment(index int) error {
	path := w.segmentPath(index)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, walFilePerm)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment %d: %w", index, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat WAL segment: %w", err)
	}

	w.file = file
	w.buf = bufio.NewWriterSize(file, defaultBufSize)
	w.enc = newEncoder(w.buf)
	w.segmentSize = info.Size()

	return nil
}

// Stop flushes and closes the WAL file
func (w *FileWAL) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}

	w.started = false

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Write writes a message to the WAL (buffered)
func (w *FileWAL) Write(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(msg)
}

// WriteSync writes a message and syncs to disk
func (w *FileWAL) WriteSync(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.write(msg); err != nil {
		return err
	}
	return w.flushAndSync()
}

func (w *FileWAL) write(msg *Message) error {
	if !w.started {
		return ErrWALClosed
	}

	// Check if rotation is needed before writing
	if w.segmentSize >= w.maxSegSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate WAL: %w", err)
		}
	}

	n, err := w.enc.Encode(msg)
	if err != nil {
		return err
	}
	w.segmentSize += int64(n)
	return nil
}

// rotate closes the current segment and opens a new one
func (w *FileWAL) rotate() error {
	if err := w.flushAndSync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	w.segmentIndex++
	w.group.MaxIndex = w.segmentIndex

	return w.openSegment(w.segmentIndex)
}

// FlushAndSync flushes the buffer and syncs to disk.
// Safe for concurrent use.
func (w *FileWAL) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}

	return w.flushAndSync()
}

// flushAndSync is the internal version that assumes lock is held
func (w *FileWAL) flushAndSync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Group returns the WAL group
func (w *FileWAL) Group() *Group {
	return w.group
}

// SegmentCount returns the number of segments
func (w *FileWAL) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.group.MaxIndex - w.group.MinIndex + 1
}

// CurrentSegmentSize returns the approximate size of the current segment
func (w *FileWAL) CurrentSegmentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentSize
}

// Ensure FileWAL implements WAL
var _ WAL = (*FileWAL)(nil)

// encoder encodes messages to the WAL
type encoder struct {
	w   io.Writer
	buf []byte
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{
		w:   w,
		buf: make([]byte, 4),
	}
}

// Encode writes a message to the WAL and returns the number of bytes written.
//
//	[4 bytes: length][N bytes: message][4 bytes: CRC32]
func (e *encoder) Encode(msg *Message) (int, error) {
	data, err := msg.Marshal()
	if err != nil {
		return 0, err
	}
	if len(data) > maxMsgSize {
		return 0, fmt.Errorf("WAL message of %d bytes exceeds %d", len(data), maxMsgSize)
	}

	checksum := crc32.ChecksumIEEE(data)

	binary.BigEndian.PutUint32(e.buf, uint32(len(data)))
	if _, err := e.w.Write(e.buf); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(data); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(e.buf, checksum)
	if _, err := e.w.Write(e.buf); err != nil {
		return 0, err
	}

	return 4 + len(data) + 4, nil
}

// decoder decodes messages from the WAL
type decoder struct {
	r   io.Reader
	buf []byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{
		r:   r,
		buf: make([]byte, 4),
	}
}

// Decode reads the next message. A record cut short by a crash is
// reported as io.ErrUnexpectedEOF.
func (d *decoder) Decode() (*Message, error) {
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(d.buf)
	if length > maxMsgSize {
		return nil, fmt.Errorf("%w: message length %d", ErrWALCorrupted, length)
	}

	poolBufPtr := decoderPool.Get().(*[]byte)
	poolBuf := *poolBufPtr
	defer func() {
		*poolBufPtr = poolBuf[:0]
		decoderPool.Put(poolBufPtr)
	}()

	if cap(poolBuf) < int(length) {
		poolBuf = make([]byte, length)
	} else {
		poolBuf = poolBuf[:length]
	}

	if _, err := io.ReadFull(d.r, poolBuf); err != nil {
		return nil, unexpectedEOF(err)
	}
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return nil, unexpectedEOF(err)
	}
	expectedCRC := binary.BigEndian.Uint32(d.buf)
	actualCRC := crc32.ChecksumIEEE(poolBuf)
	if expectedCRC != actualCRC {
		return nil, fmt.Errorf("%w: CRC mismatch (expected %08x, got %08x)", ErrWALCorrupted, expectedCRC, actualCRC)
	}

	// The message takes ownership of a copy
	data := make([]byte, length)
	copy(data, poolBuf)

	msg := &Message{}
	if err := msg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWALCorrupted, err)
	}
	return msg, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// fileReader reads messages from a WAL file
type fileReader struct {
	file *os.File
	dec  *decoder
}

func (r *fileReader) Read() (*Message, error) {
	return r.dec.Decode()
}

func (r *fileReader) Close() error {
	return r.file.Close()
}

var _ Reader = (*fileReader)(nil)

// OpenWALForReading opens a WAL for reading from the oldest segment.
func OpenWALForReading(dir string) (Reader, error) {
	segments := findSegments(dir)
	if len(segments) == 0 {
		return nil, ErrWALNotFound
	}

	return &multiSegmentReader{
		dir:      dir,
		segments: segments,
		current:  -1, // Will be incremented to 0 on first read
	}, nil
}

// findSegments finds all WAL segment files in a directory and returns their indices
func findSegments(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var segments []int
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), segmentPrefix+"-%05d", &idx); n == 1 && entry.Name() == filepath.Base(segmentPath(dir, idx)) {
			segments = append(segments, idx)
		}
	}

	sort.Ints(segments)
	return segments
}

// multiSegmentReader reads through multiple WAL segments
type multiSegmentReader struct {
	dir      string
	segments []int
	current  int
	reader   *fileReader
}

func (r *multiSegmentReader) Read() (*Message, error) {
	for {
		if r.reader == nil {
			r.current++
			if r.current >= len(r.segments) {
				return nil, io.EOF
			}

			file, err := os.Open(segmentPath(r.dir, r.segments[r.current]))
			if err != nil {
				return nil, err
			}
			r.reader = &fileReader{
				file: file,
				dec:  newDecoder(bufio.NewReader(file)),
			}
		}

		msg, err := r.reader.Read()
		if err == io.EOF {
			// End of this segment, move to next
			r.reader.Close()
			r.reader = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func (r *multiSegmentReader) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}

var _ Reader = (*multiSegmentReader)(nil)
