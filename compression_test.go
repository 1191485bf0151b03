package hisescript

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestDecompression_LimitConstantExists(t *testing.T) {
	if maxDecompressedSize < 1*1024*1024 {
		t.Errorf("maxDecompressedSize = %d, too small", maxDecompressedSize)
	}
}

func TestCompressScript_RoundTrip(t *testing.T) {
	src := strings.Repeat("function onNoteOn() { Console.print(Message.getNoteNumber()); }\n", 50)
	blob, err := CompressScript(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) >= len(src) {
		t.Errorf("blob is %d bytes for %d bytes of source", len(blob), len(src))
	}
	out, err := DecompressScript(blob)
	if err != nil {
		t.Fatal(err)
	}
	if out != src {
		t.Error("decompressed source differs")
	}
}

func TestDecompressScript_InvalidBlob(t *testing.T) {
	for name, blob := range map[string]string{
		"not base64": "%%%",
		"not brotli": base64.StdEncoding.EncodeToString([]byte("plain text, not a brotli stream")),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecompressScript(blob)
			se, ok := AsScriptError(err)
			if !ok || se.Kind != "LoadError" {
				t.Fatalf("err = %v, want LoadError", err)
			}
		})
	}
}

func TestEngine_LoadCompressed(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	blob, err := CompressScript(`var packed = 7;`)
	if err != nil {
		t.Fatal(err)
	}
	if res := e.LoadCompressed(blob); !res.OK() {
		t.Fatalf("LoadCompressed: %v", res.Err)
	}
	if v, err := e.Evaluate("packed"); err != nil || v.ToInt() != 7 {
		t.Errorf("packed = %v, %v", v, err)
	}

	res := e.LoadCompressed("garbage!")
	if se, ok := AsScriptError(res.Err); !ok || se.Kind != "LoadError" {
		t.Errorf("err = %v, want LoadError", res.Err)
	}
	if e.Generation() != 1 {
		t.Errorf("generation = %d, a failed load must keep the instance", e.Generation())
	}
}
