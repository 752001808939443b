package enclaveapi

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/cipherbid/core"
)

func TestAttestationCOSE_Base64RoundTrip(t *testing.T) {
	original := AttestationCOSE([]byte("decryption-attestation"))

	encoded := original.EncodeBase64()
	check.NotEqual(t, "", encoded.String())

	decoded, err := encoded.Decode()
	check.Nil(t, err)
	check.Equal(t, original, decoded)
}

func TestAttestationCOSEBase64_DecodeInvalid(t *testing.T) {
	for _, input := range []AttestationCOSEBase64{"not-valid-base64!!!", "abc"} {
		result, err := input.Decode()
		check.NotNil(t, err)
		check.True(t, strings.Contains(err.Error(), "decode COSE base64"))
		check.Nil(t, result)
	}
}

func TestAttestationCOSE_GzipRoundTrip(t *testing.T) {
	original := AttestationCOSE([]byte(strings.Repeat("settlement-attestation-", 20)))

	compressed, err := original.CompressGzip()
	assert.NoError(t, err)
	check.True(t, len(compressed) < len(original))
	check.False(t, strings.ContainsAny(compressed.String(), "+/="))

	again, err := original.CompressGzip()
	assert.NoError(t, err)
	check.Equal(t, compressed, again)

	decompressed, err := compressed.Decompress()
	check.Nil(t, err)
	check.Equal(t, original, decompressed)
}

func TestAttestationCOSEGzip_DecompressInvalid(t *testing.T) {
	tests := []struct {
		name   string
		input  AttestationCOSEGzip
		substr string
	}{
		{"invalid base64url", "!!!invalid!!!", "decode base64url"},
		{"not gzip", "bW9jaw", "gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.input.Decompress()
			check.NotNil(t, err)
			check.Nil(t, result)
			check.True(t, strings.Contains(err.Error(), tt.substr))
		})
	}
}

func mockAttestation(t *testing.T, userData []byte) AttestationCOSE {
	t.Helper()
	doc := map[string]any{
		"module_id":   "i-0123-enc0456",
		"digest":      "SHA384",
		"timestamp":   uint64(1740830400000),
		"pcrs":        map[uint64][]byte{0: {0xaa, 0xbb}, 1: {0x01}, 2: {0x02}},
		"certificate": []byte("cert"),
		"cabundle":    [][]byte{[]byte("root"), []byte("intermediate")},
		"public_key":  []byte{},
		"user_data":   userData,
		"nonce":       []byte("n0nce"),
	}
	payload, err := cbor.Marshal(doc)
	assert.NoError(t, err)
	out, err := cbor.Marshal([]any{[]byte{0xa0}, map[string]any{}, payload, []byte{0x01}})
	assert.NoError(t, err)
	return AttestationCOSE(out)
}

func TestAttestationCOSE_ParseAttestationDoc(t *testing.T) {
	userData, err := json.Marshal(DecryptionAttestationUserData{RequestID: "req-1", Amount: 250})
	assert.NoError(t, err)

	doc, raw, err := mockAttestation(t, userData).ParseAttestationDoc()
	assert.NoError(t, err)

	check.Equal(t, "i-0123-enc0456", doc.ModuleID)
	check.Equal(t, "SHA384", doc.DigestAlgorithm)
	check.Equal(t, "aabb", doc.PCRs.ImageFileHash)
	check.Equal(t, "", doc.PCRs.SigningCertHash)
	check.Equal(t, 2, len(doc.CABundle))
	check.Equal(t, "n0nce", doc.Nonce)
	check.Equal(t, int64(1740830400), doc.Timestamp.Unix())

	var decoded DecryptionAttestationUserData
	assert.NoError(t, json.Unmarshal(raw, &decoded))
	check.Equal(t, "req-1", decoded.RequestID)
	check.Equal(t, uint32(250), decoded.Amount)
}

func TestAttestationCOSE_ParseAttestationDocInvalid(t *testing.T) {
	three, err := cbor.Marshal([]any{[]byte{}, []byte{}, []byte{}})
	assert.NoError(t, err)

	for _, input := range []AttestationCOSE{[]byte("garbage"), three} {
		_, _, err := input.ParseAttestationDoc()
		check.Error(t, err)
	}
}

func TestRequest_JSONShape(t *testing.T) {
	req := Request{
		Type:   RequestSelectMax,
		Sender: common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Current: &core.EncryptedMax{
			Amount: common.HexToHash("0x01"),
			Bidder: common.HexToHash("0x02"),
		},
		Bid: common.HexToHash("0x03"),
	}
	data, err := json.Marshal(req)
	assert.NoError(t, err)

	var decoded Request
	assert.NoError(t, json.Unmarshal(data, &decoded))
	check.Equal(t, req.Sender, decoded.Sender)
	check.Equal(t, req.Bid, decoded.Bid)
	check.Equal(t, req.Current.Bidder, decoded.Current.Bidder)
	check.True(t, strings.Contains(string(data), `"type":"select_max"`))
	check.Nil(t, decoded.Amount)
	check.Nil(t, decoded.Input)
}
