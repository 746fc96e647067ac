package game

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"sync"
)

// RandomSource 随机数来源
type RandomSource interface {
	// Intn 返回 [0, n) 内均匀分布的整数
	Intn(n int) int
}

// CryptoRandomSource 加密安全的随机数来源
type CryptoRandomSource struct{}

// NewCryptoRandomSource 创建加密随机数来源
func NewCryptoRandomSource() *CryptoRandomSource {
	return &CryptoRandomSource{}
}

// Intn 生成随机整数，系统熵源不可用时回退到 math/rand
func (g *CryptoRandomSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return mrand.Intn(n)
	}
	return int(v.Int64())
}

// SeededRandomSource 可复现的随机数来源，用于回放和调试
type SeededRandomSource struct {
	mu sync.Mutex
	r  *mrand.Rand
}

// NewSeededRandomSource 以固定种子创建随机数来源
func NewSeededRandomSource(seed int64) *SeededRandomSource {
	return &SeededRandomSource{r: mrand.New(mrand.NewSource(seed))}
}

// Intn 生成随机整数
func (g *SeededRandomSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Intn(n)
}
