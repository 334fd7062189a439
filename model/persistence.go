package model

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/formula"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// Fitted models are persisted as a small framed file: a magic header, an
// xxhash checksum of the payload, and a zstd-compressed gob stream. The
// formula is stored in its canonical textual form and re-parsed on load.
var fileMagic = [4]byte{'T', 'W', 'M', '1'}

// RegisterObjectType registers an engine's fitted-object type for
// persistence. Engines call this from init() for every concrete type they
// return from Fit.
func RegisterObjectType(value interface{}) {
	gob.Register(value)
}

type matrixBlob struct {
	Rows, Cols int
	Data       []float64
}

func toBlob(m *mat.Dense) *matrixBlob {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	blob := &matrixBlob{Rows: r, Cols: c, Data: make([]float64, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			blob.Data[i*c+j] = m.At(i, j)
		}
	}
	return blob
}

func (b *matrixBlob) matrix() *mat.Dense {
	if b == nil {
		return nil
	}
	return mat.NewDense(b.Rows, b.Cols, b.Data)
}

type savedModel struct {
	Family        Family
	Formula       string
	FeatureNames  []string
	PredictMatrix *matrixBlob
	Object        interface{}
}

// WriteModel serializes a fitted model to w.
func WriteModel(w io.Writer, fitted *Fitted) error {
	if fitted == nil {
		return twidlrErrors.NewValueError("model.WriteModel", "fitted model is nil")
	}

	saved := savedModel{
		Family:        fitted.Family,
		FeatureNames:  fitted.Meta.FeatureNames,
		PredictMatrix: toBlob(fitted.Meta.PredictMatrix),
		Object:        fitted.Object,
	}
	if fitted.Meta.Formula != nil {
		saved.Formula = fitted.Meta.Formula.String()
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(&saved); err != nil {
		return twidlrErrors.Wrap(err, "model.WriteModel: encoding failed")
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return twidlrErrors.Wrap(err, "model.WriteModel: compressor init failed")
	}
	compressed := encoder.EncodeAll(payload.Bytes(), nil)
	if err := encoder.Close(); err != nil {
		return twidlrErrors.Wrap(err, "model.WriteModel: compressor close failed")
	}

	if _, err := w.Write(fileMagic[:]); err != nil {
		return twidlrErrors.Wrap(err, "model.WriteModel: write failed")
	}

	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(compressed))
	if _, err := w.Write(sum[:]); err != nil {
		return twidlrErrors.Wrap(err, "model.WriteModel: write failed")
	}

	if _, err := w.Write(compressed); err != nil {
		return twidlrErrors.Wrap(err, "model.WriteModel: write failed")
	}
	return nil
}

// ReadModel deserializes a fitted model from r, verifying the payload
// checksum before decoding.
func ReadModel(r io.Reader) (*Fitted, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, twidlrErrors.Wrap(err, "model.ReadModel: read failed")
	}
	if magic != fileMagic {
		return nil, twidlrErrors.New("model.ReadModel: not a twidlr model file")
	}

	var sum [8]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, twidlrErrors.Wrap(err, "model.ReadModel: read failed")
	}

	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, twidlrErrors.Wrap(err, "model.ReadModel: read failed")
	}

	if xxhash.Sum64(compressed) != binary.LittleEndian.Uint64(sum[:]) {
		return nil, twidlrErrors.New("model.ReadModel: checksum mismatch, file is corrupt")
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, twidlrErrors.Wrap(err, "model.ReadModel: decompressor init failed")
	}
	defer decoder.Close()

	payload, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, twidlrErrors.Wrap(err, "model.ReadModel: decompression failed")
	}

	var saved savedModel
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&saved); err != nil {
		return nil, twidlrErrors.Wrap(err, "model.ReadModel: decoding failed")
	}

	fitted := &Fitted{
		Family: saved.Family,
		Object: saved.Object,
		Meta: Meta{
			FeatureNames:  saved.FeatureNames,
			PredictMatrix: saved.PredictMatrix.matrix(),
		},
	}

	if saved.Formula != "" {
		f, err := formula.Parse(saved.Formula)
		if err != nil {
			return nil, twidlrErrors.Wrap(err, "model.ReadModel: stored formula is invalid")
		}
		fitted.Meta.Formula = f
	}

	return fitted, nil
}

// SaveModel writes a fitted model to a file.
func SaveModel(fitted *Fitted, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return twidlrErrors.Wrap(err, "model.SaveModel: create failed")
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = twidlrErrors.Wrap(closeErr, "model.SaveModel: close failed")
		}
	}()

	return WriteModel(file, fitted)
}

// LoadModel reads a fitted model from a file.
func LoadModel(filename string) (*Fitted, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, twidlrErrors.Wrap(err, "model.LoadModel: open failed")
	}
	defer func() { _ = file.Close() }()

	return ReadModel(file)
}
