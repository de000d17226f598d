package main

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
)

/******************************************************************************/
/***************************** Append-File Blobs ******************************/
/******************************************************************************/

// On-disk unit inside an append-only file: tag byte, uvarint payload length,
// payload. Frames are self-delimiting; a reader catching a writer mid-append
// sees a truncated trailing frame and must drop it silently.

const blobFrameTag = 0xC5

const hashSize = sha1.Size

// packBytes wraps data into a single frame.
func packBytes(data []byte) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))

	frame := make([]byte, 0, 1+n+len(data))
	frame = append(frame, blobFrameTag)
	frame = append(frame, lenBuf[:n]...)
	frame = append(frame, data...)
	return frame
}

// unpackBytes returns the payload of every complete frame in blob, in order.
// A truncated or malformed trailing frame is dropped; everything before it
// is still returned.
func unpackBytes(blob []byte) (payloads [][]byte) {
	for len(blob) > 0 {
		if blob[0] != blobFrameTag {
			return payloads
		}
		payloadLen, n := binary.Uvarint(blob[1:])
		if n <= 0 {
			return payloads
		}
		rest := blob[1+n:]
		if uint64(len(rest)) < payloadLen {
			return payloads
		}
		payloads = append(payloads, rest[:payloadLen])
		blob = rest[payloadLen:]
	}
	return payloads
}

// hashOf is the stable content hash used for input identity: hex sha1.
func hashOf(data []byte) string {
	digest := sha1.Sum(data)
	return hex.EncodeToString(digest[:])
}

// packFeaturesAndHash serializes the features of one input into a frame
// payload: the raw sha1 of the input followed by the features as
// little-endian 64-bit words.
func packFeaturesAndHash(input []byte, fv FeatureVec) []byte {
	digest := sha1.Sum(input)
	payload := make([]byte, hashSize+8*len(fv))
	copy(payload, digest[:])
	for i, f := range fv {
		binary.LittleEndian.PutUint64(payload[hashSize+8*i:], uint64(f))
	}
	return payload
}

// unpackFeaturesAndHash reverses packFeaturesAndHash. The hash comes back
// hex-encoded to match hashOf. Returns ok=false on a payload too short to
// carry a hash.
func unpackFeaturesAndHash(payload []byte) (hash string, fv FeatureVec, ok bool) {
	if len(payload) < hashSize {
		return "", nil, false
	}
	hash = hex.EncodeToString(payload[:hashSize])
	words := payload[hashSize:]
	fv = make(FeatureVec, 0, len(words)/8)
	for len(words) >= 8 {
		fv = append(fv, feature(binary.LittleEndian.Uint64(words)))
		words = words[8:]
	}
	return hash, fv, true
}
