package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/cryguy/hisescript/internal/scriptnode"
	"github.com/cryguy/hisescript/internal/valuetree"
)

func cmdNet(args []string) int {
	fs := flag.NewFlagSet("net", flag.ContinueOnError)
	blocks := fs.Int("blocks", 16, "number of blocks to process")
	sampleRate := fs.Float64("samplerate", 44100, "sample rate")
	blockSize := fs.Int("blocksize", 512, "block size")
	freq := fs.Float64("freq", 440, "frequency of the test sine")
	storeDir := fs.String("store", "", "network store directory; the argument is then a network id")
	save := fs.Bool("save", false, "save a network loaded from a file to -store")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s net [flags] <file.xml|id>\n", appName)
		return 2
	}
	store, err := openStore(*storeDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	if store != nil {
		defer store.Close()
	}

	var n *scriptnode.Network
	if store != nil && !*save {
		n, err = store.OpenNetwork(fs.Arg(0), nil)
	} else {
		n, err = loadNetworkFile(fs.Arg(0))
		if err == nil && *save && store != nil {
			err = store.SaveNetwork(n.ToValueTree())
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}

	if err := n.Prepare(scriptnode.PrepareSpecs{SampleRate: *sampleRate, BlockSize: *blockSize, NumChannels: 2}); err != nil {
		fmt.Fprintln(os.Stderr, yellow(err.Error()))
	}
	for _, e := range n.Exceptions.Errors() {
		fmt.Fprintln(os.Stderr, yellow(e.Error()))
	}

	peaks := make([]float64, 2)
	channels := [][]float32{make([]float32, *blockSize), make([]float32, *blockSize)}
	phase := 0.0
	delta := 2 * math.Pi * *freq / *sampleRate
	for b := 0; b < *blocks; b++ {
		for i := range channels[0] {
			x := float32(math.Sin(phase))
			phase += delta
			for c := range channels {
				channels[c][i] = x
			}
		}
		n.Process(channels, nil)
		for c, ch := range channels {
			for _, x := range ch {
				peaks[c] = max(peaks[c], math.Abs(float64(x)))
			}
		}
	}

	fmt.Printf("%s: %d nodes, %d blocks\n", n.ID, n.NumNodes(), *blocks)
	for c, p := range peaks {
		fmt.Printf("  channel %d peak %.4f (%s)\n", c, p, decibels(p))
	}
	return 0
}

func loadNetworkFile(path string) (*scriptnode.Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	t, err := valuetree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return scriptnode.CreateFromValueTree(t, nil)
}

func decibels(gain float64) string {
	if gain <= 0 {
		return "-inf dB"
	}
	return fmt.Sprintf("%.1f dB", 20*math.Log10(gain))
}
