// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomPayload(rng *rand.Rand) []byte {
	p := make([]byte, rng.Intn(MaxPayloadSize+1))
	rng.Read(p)
	return p
}

// noMarker returns random bytes that contain neither marker byte
func noMarker(rng *rand.Rand, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		b := byte(rng.Intn(256))
		if b == byte(DirIn) || b == byte(CmdGet) {
			b = 0
		}
		p[i] = b
	}
	return p
}

func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		fieldID := uint8(rng.Intn(256))
		payload := randomPayload(rng)
		wire := Encode(DirIn, CmdGet, fieldID, payload)

		frames, consumed, errs := Decode(wire)
		if len(errs) != 0 || len(frames) == 0 {
			t.Fatalf("round %d: frames=%d errs=%v", i, len(frames), errs)
		}
		f := frames[0]
		if f.FieldID() != fieldID || !bytes.Equal(f.Payload(), payload) {
			t.Fatalf("round %d: got field %d payload % X", i, f.FieldID(), f.Payload())
		}
		if consumed < len(wire)-1 {
			t.Fatalf("round %d: consumed %d of %d", i, consumed, len(wire))
		}
	}
}

func TestFuzz_FramesBetweenNoise(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10

	for i := 0; i < rounds; i++ {
		var stream []byte
		var want []uint8
		for j := 0; j < 1+rng.Intn(8); j++ {
			stream = append(stream, noMarker(rng, rng.Intn(16))...)
			id := uint8(rng.Intn(256))
			want = append(want, id)
			stream = append(stream, Encode(DirIn, CmdGet, id, noMarker(rng, rng.Intn(32)))...)
		}

		// Deliver the stream in random chunk sizes
		var buf []byte
		var got []uint8
		for pos := 0; pos < len(stream); {
			n := 1 + rng.Intn(24)
			if pos+n > len(stream) {
				n = len(stream) - pos
			}
			buf = append(buf, stream[pos:pos+n]...)
			pos += n

			frames, consumed, errs := Decode(buf)
			if len(errs) != 0 {
				t.Fatalf("round %d: unexpected framing errors %v", i, errs)
			}
			for _, f := range frames {
				got = append(got, f.FieldID())
			}
			buf = buf[consumed:]
		}

		if !bytes.Equal(got, want) {
			t.Fatalf("round %d: field ids % X, want % X", i, got, want)
		}
	}
}

func TestFuzz_RandomBytesNeverPanic(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		buf := make([]byte, rng.Intn(512))
		rng.Read(buf)
		// Bias towards marker pairs
		for j := 0; j+1 < len(buf); j += 1 + rng.Intn(20) {
			buf[j], buf[j+1] = byte(DirIn), byte(CmdGet)
		}

		frames, consumed, _ := Decode(buf)
		if consumed < 0 || consumed > len(buf) {
			t.Fatalf("round %d: consumed %d out of range", i, consumed)
		}
		for _, f := range frames {
			if Checksum(f.FieldID(), f.Payload()) != f.Checksum() {
				t.Fatalf("round %d: accepted frame with bad checksum", i)
			}
			_, _ = DecodeTelemetry(f.FieldID(), f.Payload())
		}
	}
}
