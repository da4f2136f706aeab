package plc

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"io"
	"math/rand/v2"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

// Confounders only need to be unpredictable, not secret, so a fast
// generator seeded from crypto/rand is used and reseeded periodically.
const reseedInterval = 1 << 20

var (
	hasAESHardwareSupport = cpu.X86.HasAES && cpu.X86.HasSSE41 && cpu.X86.HasSSSE3 ||
		cpu.ARM64.HasAES ||
		cpu.S390X.HasAES ||
		runtime.GOARCH == "ppc64" || runtime.GOARCH == "ppc64le"

	entropy io.Reader = NewEntropy()
)

// NewEntropy returns the AES counter generator when the CPU accelerates AES,
// ChaCha8 otherwise.
func NewEntropy() io.Reader {
	if hasAESHardwareSupport {
		return NewEntropyAES()
	}
	return NewEntropyChacha8()
}

// SetEntropy replaces the confounder source. Call it before any node runs.
func SetEntropy(r io.Reader) {
	entropy = r
}

func fillRand(p []byte) {
	if len(p) == 0 {
		return
	}
	io.ReadFull(entropy, p)
}

type entropyAES struct {
	mu    sync.Mutex
	block cipher.Block
	ctr   [aes.BlockSize]byte
	count uint64
}

func NewEntropyAES() io.Reader {
	r := new(entropyAES)
	r.rekey()
	return r
}

func (r *entropyAES) rekey() {
	var key [16]byte
	io.ReadFull(crand.Reader, key[:])
	io.ReadFull(crand.Reader, r.ctr[:])
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	r.block = block
	r.count = 0
}

func (r *entropyAES) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(p) {
		if r.count++; r.count >= reseedInterval {
			r.rekey()
		}
		r.block.Encrypt(r.ctr[:], r.ctr[:])
		n += copy(p[n:], r.ctr[:])
	}
	return n, nil
}

type entropyChacha8 struct {
	mu    sync.Mutex
	rand  *rand.ChaCha8
	count uint64
}

func NewEntropyChacha8() io.Reader {
	var seed [32]byte
	io.ReadFull(crand.Reader, seed[:])
	return &entropyChacha8{rand: rand.NewChaCha8(seed)}
}

func (r *entropyChacha8) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count++; r.count >= reseedInterval {
		var seed [32]byte
		io.ReadFull(crand.Reader, seed[:])
		r.rand.Seed(seed)
		r.count = 0
	}
	return r.rand.Read(p)
}
