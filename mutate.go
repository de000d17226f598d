package main

import (
	"math/rand"
)

// **************************************
// ********* Consts and Init ************

const (
	mutationStackMax = 16
	inputSizeMax     = 1 << 19 // 1M, as AFL.
)

// Interesting values to overwrite with, AFL style.
var (
	interestingBytes = []byte{0, 1, 16, 32, 64, 100, 127, 128, 255}
	interestingWords = []uint16{0, 128, 255, 256, 512, 1000, 1024, 4093, 32767, 65535}
)

// Knobs weighting the choice of mutation operator, registered at startup so
// their layout stays stable for this build of the engine.
var (
	knobMutFlipBit    = newKnobId("mutate_flip_bit")
	knobMutFlipByte   = newKnobId("mutate_flip_byte")
	knobMutSetByte    = newKnobId("mutate_set_byte")
	knobMutSetWord    = newKnobId("mutate_set_word")
	knobMutInsert     = newKnobId("mutate_insert")
	knobMutErase      = newKnobId("mutate_erase")
	knobMutCrossOver  = newKnobId("mutate_cross_over")
	knobMutStackDepth = newKnobId("mutate_stack_depth")
)

var mutationKnobs = []KnobId{
	knobMutFlipBit, knobMutFlipByte, knobMutSetByte, knobMutSetWord,
	knobMutInsert, knobMutErase, knobMutCrossOver,
}

// *****************************************************************************
// ************************* Main Mutator Object *******************************

// mutator transforms batches of inputs in place. One mutator per engine
// process, sharing the engine's RNG so runs replay under a fixed seed.
type mutator struct {
	rSrc  *rand.Rand
	knobs *Knobs
}

func makeMutator(rSrc *rand.Rand, knobs *Knobs) *mutator {
	return &mutator{rSrc: rSrc, knobs: knobs}
}

// MutateMany rewrites every input of the batch. Inputs also serve as
// cross-over partners for each other.
func (m *mutator) MutateMany(inputs [][]byte) {
	for i := range inputs {
		other := inputs[m.rSrc.Intn(len(inputs))]
		inputs[i] = m.mutate(inputs[i], other)
	}
}

func (m *mutator) mutate(input, crossWith []byte) []byte {
	testCase := make([]byte, len(input))
	copy(testCase, input)

	stackNb := 1 + m.rSrc.Intn(mutationStackMax)
	if m.knobs.GenerateBool(knobMutStackDepth, false, m.rSrc.Uint64()) {
		stackNb = 1 // favor small, local changes
	}

	for i := 0; i < stackNb; i++ {
		switch mutationKnobs[m.knobs.Choose(mutationKnobs, m.rSrc.Uint64())] {
		case knobMutFlipBit:
			testCase = m.flipBit(testCase)
		case knobMutFlipByte:
			testCase = m.flipByte(testCase)
		case knobMutSetByte:
			testCase = m.setByte(testCase)
		case knobMutSetWord:
			testCase = m.setWord(testCase)
		case knobMutInsert:
			testCase = m.insert(testCase)
		case knobMutErase:
			testCase = m.erase(testCase)
		case knobMutCrossOver:
			testCase = m.crossOver(testCase, crossWith)
		}
	}

	if len(testCase) > inputSizeMax {
		testCase = testCase[:inputSizeMax]
	}
	if len(testCase) == 0 {
		testCase = []byte{0}
	}
	return testCase
}

// ***************************
// *** Mutation operators ***

func (m *mutator) flipBit(tc []byte) []byte {
	if len(tc) == 0 {
		return tc
	}
	pos := m.rSrc.Intn(len(tc))
	tc[pos] ^= 1 << uint(m.rSrc.Intn(8))
	return tc
}

func (m *mutator) flipByte(tc []byte) []byte {
	if len(tc) == 0 {
		return tc
	}
	tc[m.rSrc.Intn(len(tc))] ^= 0xff
	return tc
}

func (m *mutator) setByte(tc []byte) []byte {
	if len(tc) == 0 {
		return tc
	}
	tc[m.rSrc.Intn(len(tc))] = interestingBytes[m.rSrc.Intn(len(interestingBytes))]
	return tc
}

func (m *mutator) setWord(tc []byte) []byte {
	if len(tc) < 2 {
		return m.setByte(tc)
	}
	pos := m.rSrc.Intn(len(tc) - 1)
	word := interestingWords[m.rSrc.Intn(len(interestingWords))]
	tc[pos] = byte(word)
	tc[pos+1] = byte(word >> 8)
	return tc
}

func (m *mutator) insert(tc []byte) []byte {
	pos := 0
	if len(tc) > 0 {
		pos = m.rSrc.Intn(len(tc) + 1)
	}
	ins := make([]byte, 1+m.rSrc.Intn(8))
	m.rSrc.Read(ins)

	out := make([]byte, 0, len(tc)+len(ins))
	out = append(out, tc[:pos]...)
	out = append(out, ins...)
	out = append(out, tc[pos:]...)
	return out
}

func (m *mutator) erase(tc []byte) []byte {
	if len(tc) < 2 {
		return tc
	}
	n := 1 + m.rSrc.Intn(len(tc)/2)
	pos := m.rSrc.Intn(len(tc) - n + 1)
	return append(tc[:pos], tc[pos+n:]...)
}

func (m *mutator) crossOver(tc, other []byte) []byte {
	if len(other) == 0 {
		return tc
	}
	n := 1 + m.rSrc.Intn(len(other))
	start := m.rSrc.Intn(len(other) - n + 1)
	chunk := other[start : start+n]

	pos := 0
	if len(tc) > 0 {
		pos = m.rSrc.Intn(len(tc) + 1)
	}
	out := make([]byte, 0, len(tc)+n)
	out = append(out, tc[:pos]...)
	out = append(out, chunk...)
	out = append(out, tc[pos:]...)
	return out
}
