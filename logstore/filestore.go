package logstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"raftcore/raft"
)

// FileStore is a durable, file-backed raft.LogStorage. It frames each log
// record as (term, index, payloadCount, then each payload part as its
// length followed by its bytes) in little-endian binary, adapted from the teacher's
// storage/wal.go Entry framing (there: timestamp, op byte, key/value
// length-prefixed pairs) narrowed to the Raft log's (LogID, [][]byte)
// shape. Unlike the teacher's WAL, every Append/Truncate/SaveVote here
// calls File.Sync before returning — the teacher explicitly traded
// per-write fsync for throughput since its WAL backed a best-effort KV
// store; the engine's single-writer durability points (spec §5: "vote
// before reply; entries before ack") require the opposite trade here.
type FileStore struct {
	mu sync.Mutex

	logFile *os.File
	logW    *bufio.Writer

	votePath string

	entries map[uint64]raft.Entry
	order   []uint64
	vote    raft.Vote
	init    bool
}

// NewFileStore opens (or creates) a log file and vote file under dir,
// replaying any existing log/vote records into memory. The in-memory index
// mirrors the file for fast Read/ReadRange/LastLogID; every mutation is
// still durably appended to the file before the in-memory index is
// updated.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create dir: %w", err)
	}
	logPath := filepath.Join(dir, "raft.log")
	votePath := filepath.Join(dir, "raft.vote")

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logstore: open log file: %w", err)
	}

	fs := &FileStore{
		logFile:  f,
		logW:     bufio.NewWriter(f),
		votePath: votePath,
		entries:  make(map[uint64]raft.Entry),
	}
	if err := fs.replayLog(); err != nil {
		f.Close()
		return nil, err
	}
	if err := fs.replayVote(); err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) replayLog() error {
	if _, err := fs.logFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("logstore: seek log file: %w", err)
	}
	reader := bufio.NewReader(fs.logFile)
	for {
		entry, err := readEntry(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("logstore: replay log: %w", err)
		}
		fs.indexEntry(entry)
	}
	if _, err := fs.logFile.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("logstore: seek log file to end: %w", err)
	}
	return nil
}

func (fs *FileStore) replayVote() error {
	data, err := os.ReadFile(fs.votePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("logstore: read vote file: %w", err)
	}
	v, err := decodeVote(data)
	if err != nil {
		return fmt.Errorf("logstore: decode vote file: %w", err)
	}
	fs.vote = v
	if len(fs.entries) > 0 {
		fs.init = true
	}
	return nil
}

func (fs *FileStore) indexEntry(e raft.Entry) {
	if _, ok := fs.entries[e.LogID.Index]; !ok {
		fs.order = append(fs.order, e.LogID.Index)
	}
	fs.entries[e.LogID.Index] = e
	if e.LogID.Index == 0 {
		fs.init = true
	}
}

func (fs *FileStore) Append(ctx context.Context, entries []raft.Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, e := range entries {
		if err := writeEntry(fs.logW, e); err != nil {
			return fmt.Errorf("logstore: write entry: %w", err)
		}
	}
	if err := fs.logW.Flush(); err != nil {
		return fmt.Errorf("logstore: flush log: %w", err)
	}
	if err := fs.logFile.Sync(); err != nil {
		return fmt.Errorf("logstore: fsync log: %w", err)
	}
	for _, e := range entries {
		fs.indexEntry(e)
	}
	return nil
}

// Truncate removes every entry at or above fromIndex by rewriting the log
// file from scratch with the surviving prefix, mirroring the teacher's
// WAL.Reset (close, truncate, reopen, fsync) rather than attempting an
// in-place seek-and-truncate on a variable-length record format.
func (fs *FileStore) Truncate(ctx context.Context, fromIndex uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	keep := make([]raft.Entry, 0, len(fs.entries))
	for _, idx := range fs.order {
		if idx < fromIndex {
			keep = append(keep, fs.entries[idx])
		}
	}

	if err := fs.logW.Flush(); err != nil {
		return fmt.Errorf("logstore: flush before truncate: %w", err)
	}
	if err := fs.logFile.Close(); err != nil {
		return fmt.Errorf("logstore: close before truncate: %w", err)
	}
	f, err := os.OpenFile(fs.logFile.Name(), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: reopen truncated log: %w", err)
	}
	fs.logFile = f
	fs.logW = bufio.NewWriter(f)
	for _, e := range keep {
		if err := writeEntry(fs.logW, e); err != nil {
			return fmt.Errorf("logstore: rewrite kept entry: %w", err)
		}
	}
	if err := fs.logW.Flush(); err != nil {
		return fmt.Errorf("logstore: flush rewritten log: %w", err)
	}
	if err := fs.logFile.Sync(); err != nil {
		return fmt.Errorf("logstore: fsync rewritten log: %w", err)
	}

	fs.entries = make(map[uint64]raft.Entry, len(keep))
	fs.order = fs.order[:0]
	for _, e := range keep {
		fs.indexEntry(e)
	}
	return nil
}

func (fs *FileStore) Read(ctx context.Context, index uint64) (raft.Entry, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[index]
	return e, ok, nil
}

func (fs *FileStore) ReadRange(ctx context.Context, lo, hi uint64) ([]raft.Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]raft.Entry, 0, hi-lo+1)
	for idx := lo; idx <= hi; idx++ {
		if e, ok := fs.entries[idx]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (fs *FileStore) LastLogID(ctx context.Context) (*raft.LogID, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var last *raft.LogID
	for _, idx := range fs.order {
		e := fs.entries[idx]
		id := e.LogID
		if last == nil || id.Index > last.Index {
			last = &id
		}
	}
	return last, nil
}

// SaveVote durably overwrites the vote file via the write-temp-then-rename
// pattern: rename is atomic on POSIX filesystems, so a crash mid-write
// never leaves a torn vote record, matching the fsync-on-Reset durability
// the teacher's WAL gives the log file.
func (fs *FileStore) SaveVote(ctx context.Context, v raft.Vote) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	tmp := fs.votePath + ".tmp"
	data := encodeVote(v)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: open temp vote file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("logstore: write temp vote file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("logstore: fsync temp vote file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("logstore: close temp vote file: %w", err)
	}
	if err := os.Rename(tmp, fs.votePath); err != nil {
		return fmt.Errorf("logstore: rename vote file: %w", err)
	}
	fs.vote = v
	return nil
}

func (fs *FileStore) ReadVote(ctx context.Context) (raft.Vote, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.vote, nil
}

func (fs *FileStore) Initialize(ctx context.Context, members map[raft.NodeID]raft.Node) error {
	fs.mu.Lock()
	already := fs.init || len(fs.entries) > 0
	fs.mu.Unlock()
	if already {
		return raft.ErrAlreadyInitialized
	}
	sentinel := raft.Entry{LogID: raft.LogID{Term: 0, Index: 0}}
	return fs.Append(ctx, []raft.Entry{sentinel})
}

// Close flushes and closes the underlying log file.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.logW.Flush(); err != nil {
		return err
	}
	return fs.logFile.Close()
}

var _ raft.LogStorage = (*FileStore)(nil)

// --- binary framing ----------------------------------------------------------

func writeEntry(w *bufio.Writer, e raft.Entry) error {
	if err := binary.Write(w, binary.LittleEndian, e.LogID.Term); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.LogID.Index); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Payload))); err != nil {
		return err
	}
	for _, part := range e.Payload {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(part))); err != nil {
			return err
		}
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func readEntry(r *bufio.Reader) (raft.Entry, error) {
	var e raft.Entry
	var term uint64
	if err := binary.Read(r, binary.LittleEndian, &term); err != nil {
		return e, err
	}
	var index uint64
	if err := binary.Read(r, binary.LittleEndian, &index); err != nil {
		return e, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return e, err
	}
	payload := make([][]byte, n)
	for i := range payload {
		var partLen uint32
		if err := binary.Read(r, binary.LittleEndian, &partLen); err != nil {
			return e, err
		}
		buf := make([]byte, partLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return e, err
		}
		payload[i] = buf
	}
	e.LogID = raft.LogID{Term: raft.Term(term), Index: index}
	e.Payload = payload
	return e, nil
}

func encodeVote(v raft.Vote) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v.Term))
	votedFor := []byte(v.VotedFor)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(votedFor)))
	out := append(buf, lenBuf...)
	out = append(out, votedFor...)
	if v.Committed {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

func decodeVote(data []byte) (raft.Vote, error) {
	if len(data) < 12 {
		return raft.Vote{}, fmt.Errorf("logstore: vote file too short")
	}
	term := binary.LittleEndian.Uint64(data[:8])
	n := binary.LittleEndian.Uint32(data[8:12])
	if len(data) < int(12+n+1) {
		return raft.Vote{}, fmt.Errorf("logstore: vote file truncated")
	}
	votedFor := string(data[12 : 12+n])
	committed := data[12+n] == 1
	return raft.Vote{Term: raft.Term(term), VotedFor: raft.NodeID(votedFor), Committed: committed}, nil
}
