//go:build windows

package kvstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// DPAPIStore protects every value with the current user's DPAPI key
// before it reaches the backing file.
type DPAPIStore struct {
	file *FileStore
}

func NewSecureStore(path string) (Store, error) {
	file, err := NewFileStore(path)
	if err != nil {
		return nil, err
	}
	return &DPAPIStore{file: file}, nil
}

func (s *DPAPIStore) Get(ctx context.Context, key string) (string, bool, error) {
	encoded, ok, err := s.file.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	protected, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false, fmt.Errorf("decode protected value %q: %w", key, err)
	}
	plain, err := dpapiUnprotect(protected)
	if err != nil {
		return "", false, err
	}
	return string(plain), true, nil
}

func (s *DPAPIStore) Set(ctx context.Context, key, value string) error {
	protected, err := dpapiProtect([]byte(value))
	if err != nil {
		return err
	}
	return s.file.Set(ctx, key, base64.StdEncoding.EncodeToString(protected))
}

func (s *DPAPIStore) Delete(ctx context.Context, key string) error {
	return s.file.Delete(ctx, key)
}

// entropy ties protected values to this application.
var entropy = []byte("selfcare/kvstore")

func dpapiProtect(plain []byte) ([]byte, error) {
	return dpapi("protect", plain, func(in, ent, out *windows.DataBlob) error {
		return windows.CryptProtectData(in, nil, ent, 0, nil, windows.CRYPTPROTECT_UI_FORBIDDEN, out)
	})
}

func dpapiUnprotect(protected []byte) ([]byte, error) {
	return dpapi("unprotect", protected, func(in, ent, out *windows.DataBlob) error {
		return windows.CryptUnprotectData(in, nil, ent, 0, nil, windows.CRYPTPROTECT_UI_FORBIDDEN, out)
	})
}

// dpapi runs one CryptProtectData/CryptUnprotectData call and copies the
// LocalAlloc'd result into Go memory.
func dpapi(op string, data []byte, call func(in, ent, out *windows.DataBlob) error) ([]byte, error) {
	in, ent := blob(data), blob(entropy)
	var out windows.DataBlob
	if err := call(&in, &ent, &out); err != nil {
		return nil, fmt.Errorf("dpapi %s: %w", op, err)
	}
	if out.Data == nil {
		return nil, nil
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data)))
	return append([]byte(nil), unsafe.Slice(out.Data, out.Size)...), nil
}

func blob(data []byte) windows.DataBlob {
	if len(data) == 0 {
		return windows.DataBlob{}
	}
	return windows.DataBlob{Size: uint32(len(data)), Data: &data[0]}
}
