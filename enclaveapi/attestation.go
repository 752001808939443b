package enclaveapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/cloudx-io/cipherbid/enclaveapi/parsing"
)

// AttestationCOSE is a raw COSE_Sign1 attestation document as returned by the NSM.
type AttestationCOSE []byte

// AttestationCOSEBase64 is an AttestationCOSE in standard base64, the form used in
// JSON responses.
type AttestationCOSEBase64 string

// AttestationCOSEGzip is a gzipped AttestationCOSE in unpadded base64url, compact
// enough to hand to bidders in a URL.
type AttestationCOSEGzip string

// EncodeBase64 encodes the document for JSON transport.
func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

// CompressGzip compresses the document. The output is deterministic for a given input.
func (a AttestationCOSE) CompressGzip() (AttestationCOSEGzip, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(a); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return AttestationCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

// ParseAttestationDoc extracts the Nitro attestation document from the COSE
// envelope. It also returns the raw user data, which each attestation kind
// decodes into its own type.
func (a AttestationCOSE) ParseAttestationDoc() (AttestationDoc, []byte, error) {
	payload, err := parsing.ExtractCOSEPayload(a)
	if err != nil {
		return AttestationDoc{}, nil, err
	}

	raw, err := parsing.ParseNitroDocument(payload)
	if err != nil {
		return AttestationDoc{}, nil, err
	}

	doc := AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs:            pcrsFromRaw(raw.PCRs),
		Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:        parsing.EncodeCertificateBundle(raw.CABundle),
		PublicKey:       base64.StdEncoding.EncodeToString(raw.PublicKey),
		Nonce:           string(raw.Nonce),
	}
	return doc, raw.UserData, nil
}

func pcrsFromRaw(raw map[uint64][]byte) PCRs {
	return PCRs{
		ImageFileHash:   parsing.FormatPCR(raw[0]),
		KernelHash:      parsing.FormatPCR(raw[1]),
		ApplicationHash: parsing.FormatPCR(raw[2]),
		IAMRoleHash:     parsing.FormatPCR(raw[3]),
		InstanceIDHash:  parsing.FormatPCR(raw[4]),
		SigningCertHash: parsing.FormatPCR(raw[8]),
	}
}

// Decode returns the raw COSE bytes.
func (a AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	b, err := base64.StdEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(b), nil
}

// Decompress reverses CompressGzip.
func (a AttestationCOSEGzip) Decompress() (AttestationCOSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	return AttestationCOSE(out), nil
}

func (a AttestationCOSEBase64) String() string { return string(a) }
func (a AttestationCOSEGzip) String() string   { return string(a) }
