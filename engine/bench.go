package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	memcpyBufBytes = 16 << 20 // per worker
	memcpyPasses   = 8
	matMulDim      = 256
	matMulPasses   = 4
)

// benchMemcpy measures bulk copy bandwidth across threads. The report
// shape follows the native engine's bench output: one line per thread
// plus a total.
func benchMemcpy(threads int) string {
	if threads < 1 {
		threads = 1
	}

	rates := make([]float64, threads)
	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			src := make([]byte, memcpyBufBytes)
			dst := make([]byte, memcpyBufBytes)
			start := time.Now()
			for p := 0; p < memcpyPasses; p++ {
				copy(dst, src)
			}
			elapsed := time.Since(start).Seconds()
			bytes := float64(memcpyBufBytes) * memcpyPasses
			rates[t] = bytes / elapsed / 1e9
		}(t)
	}
	wg.Wait()

	var b strings.Builder
	var total float64
	for t, r := range rates {
		total += r
		fmt.Fprintf(&b, "memcpy: thread %d: %6.2f GB/s\n", t, r)
	}
	fmt.Fprintf(&b, "memcpy: %d threads total: %6.2f GB/s\n", threads, total)
	return b.String()
}

// benchMatMul measures float32 matrix-multiply throughput across threads.
func benchMatMul(threads int) string {
	if threads < 1 {
		threads = 1
	}

	rates := make([]float64, threads)
	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			n := matMulDim
			a := make([]float32, n*n)
			bm := make([]float32, n*n)
			c := make([]float32, n*n)
			for i := range a {
				a[i] = float32(i%7) * 0.5
				bm[i] = float32(i%5) * 0.25
			}
			start := time.Now()
			for p := 0; p < matMulPasses; p++ {
				for i := 0; i < n; i++ {
					for j := 0; j < n; j++ {
						var sum float32
						for k := 0; k < n; k++ {
							sum += a[i*n+k] * bm[k*n+j]
						}
						c[i*n+j] = sum
					}
				}
			}
			elapsed := time.Since(start).Seconds()
			flops := 2 * float64(n) * float64(n) * float64(n) * matMulPasses
			rates[t] = flops / elapsed / 1e9
		}(t)
	}
	wg.Wait()

	var b strings.Builder
	var total float64
	for t, r := range rates {
		total += r
		fmt.Fprintf(&b, "ggml_mul_mat: thread %d: %6.2f GFLOPS\n", t, r)
	}
	fmt.Fprintf(&b, "ggml_mul_mat: %d threads total: %6.2f GFLOPS\n", threads, total)
	return b.String()
}
