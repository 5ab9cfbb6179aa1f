package accessor

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/austindbirch/grpc_deliver/internal/host/hosttest"
)

// shortReader hands out at most n bytes per Read and reports EOF together with
// the final chunk.
type shortReader struct {
	*bytes.Reader
	n int
}

func (s *shortReader) Read(p []byte) (int, error) {
	if len(p) > s.n {
		p = p[:s.n]
	}
	n, err := s.Reader.Read(p)
	if err == nil && s.Reader.Len() == 0 {
		err = io.EOF
	}
	return n, err
}

type failingSeeker struct{ io.Reader }

func (failingSeeker) Seek(int64, int) (int64, error) { return 0, errors.New("illegal seek") }

type errAfterSeeker struct {
	io.Reader
}

func (errAfterSeeker) Seek(int64, int) (int64, error) { return 0, nil }

func TestReadAll(t *testing.T) {
	big := bytes.Repeat([]byte("0123456789abcdef"), 3*chunkSize/16+7)

	tests := []struct {
		name    string
		r       io.ReadSeeker
		want    []byte
		wantErr bool
	}{
		{name: "small message", r: bytes.NewReader([]byte("Subject: hi\r\n\r\nbody")), want: []byte("Subject: hi\r\n\r\nbody")},
		{name: "empty message", r: bytes.NewReader(nil), want: []byte{}},
		{name: "spans several chunks", r: bytes.NewReader(big), want: big},
		{name: "short reads", r: &shortReader{Reader: bytes.NewReader(big), n: 100}, want: big},
		{name: "seek fails", r: failingSeeker{bytes.NewReader([]byte("x"))}, wantErr: true},
		{name: "read error midway", r: errAfterSeeker{iotest.TimeoutReader(bytes.NewReader(big))}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadAll(tt.r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadAll() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrContext) {
					t.Errorf("ReadAll() error %v does not wrap ErrContext", err)
				}
				if got != nil {
					t.Errorf("ReadAll() returned %d bytes of partial data", len(got))
				}
				return
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ReadAll() = %d bytes, want %d", len(got), len(tt.want))
			}
		})
	}
}

func TestReadAllRewinds(t *testing.T) {
	r := bytes.NewReader([]byte("Subject: hi\r\n\r\nbody"))
	_, _ = r.Seek(5, io.SeekStart)

	got, err := ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Subject: hi\r\n\r\nbody" {
		t.Errorf("ReadAll() = %q, want full message", got)
	}
}

func TestMessageStream(t *testing.T) {
	dc := hosttest.New("abc", "grpc://svc:50051", []byte("m"))
	if _, err := MessageStream(dc); err != nil {
		t.Errorf("MessageStream() error = %v", err)
	}

	dc.FileErr = hosttest.ErrNoFile
	_, err := MessageStream(dc)
	if !errors.Is(err, ErrContext) || !errors.Is(err, hosttest.ErrNoFile) {
		t.Errorf("MessageStream() error = %v, want ErrContext wrapping ErrNoFile", err)
	}
}

func TestTransactionID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "ascii", id: "abc123", want: "abc123"},
		{name: "utf-8 kept", id: "tx-\u00e9t\u00e9", want: "tx-\u00e9t\u00e9"},
		{name: "invalid byte replaced", id: "abc\xff123", want: "abc\uFFFD123"},
		{name: "invalid run replaced once", id: "\xff\xfe", want: "\uFFFD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := TransactionID(hosttest.New(tt.id, "", nil))
			if err != nil || id != tt.want {
				t.Errorf("TransactionID() = %q, %v; want %q", id, err, tt.want)
			}
		})
	}

	dc := hosttest.New("abc123", "", nil)
	dc.TxIDErr = hosttest.ErrNoTransactionID
	if _, err := TransactionID(dc); !errors.Is(err, ErrContext) {
		t.Errorf("TransactionID() error = %v, want ErrContext", err)
	}
}

func TestTargetEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		argsErr error
		want    string
		wantErr error
	}{
		{name: "string url", args: map[string]any{"url": "grpc://svc:50051"}, want: "grpc://svc:50051"},
		{name: "extra arguments ignored", args: map[string]any{"url": "http://[::1]:50051", "other": 1}, want: "http://[::1]:50051"},
		{name: "collection absent", args: nil, wantErr: ErrNoArguments},
		{name: "url missing", args: map[string]any{}, wantErr: ErrMissingURL},
		{name: "url is a number", args: map[string]any{"url": 50051}, wantErr: ErrURLNotString},
		{name: "url is a list", args: map[string]any{"url": []any{"a"}}, wantErr: ErrURLNotString},
		{name: "host error", argsErr: hosttest.ErrNoArguments, wantErr: hosttest.ErrNoArguments},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := &hosttest.Context{Args: tt.args, ArgsErr: tt.argsErr}
			got, err := TargetEndpoint(dc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrContext) {
					t.Fatalf("TargetEndpoint() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("TargetEndpoint() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("TargetEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}
