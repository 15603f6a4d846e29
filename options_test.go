package coaptcp

import (
	"bytes"
	"testing"
)

func TestOption_Critical(t *testing.T) {
	tests := []struct {
		number   uint16
		critical bool
	}{
		{OptionMaxMessageSize, false},
		{OptionURIHost, true},
		{OptionBlockWiseTransfer, false},
		{OptionURIPort, true},
		{1000, false},
		{1001, true},
	}

	for _, tt := range tests {
		if got := (MessageOption{Number: tt.number}).Critical(); got != tt.critical {
			t.Errorf("Option(%d).Critical() = %v, want %v", tt.number, got, tt.critical)
		}
	}
}

func TestUintOption(t *testing.T) {
	tests := []struct {
		value uint64
		bytes []byte
	}{
		{0, []byte{}},
		{1, []byte{1}},
		{255, []byte{255}},
		{256, []byte{1, 0}},
		{1024 * 1024, []byte{0x10, 0x00, 0x00}},
	}

	for _, tt := range tests {
		opt := UintOption(2, tt.value)
		if !bytes.Equal(opt.Value, tt.bytes) {
			t.Errorf("UintOption(2, %d).Value = %v, want %v", tt.value, opt.Value, tt.bytes)
		}
		if opt.Uint() != tt.value {
			t.Errorf("Uint() = %d, want %d", opt.Uint(), tt.value)
		}
	}
}

func TestOptionCodec_RoundTrip(t *testing.T) {
	oc := DefaultOptionCodec()

	tests := []struct {
		name    string
		opts    Options
		payload []byte
	}{
		{"empty", nil, nil},
		{"payload only", nil, []byte("data")},
		{"single option", Options{UintOption(2, 1152)}, nil},
		{
			"several options and payload",
			Options{
				UintOption(OptionMaxMessageSize, 1 << 20),
				StringOption(OptionURIHost, "host.example"),
				UintOption(OptionBlockWiseTransfer, 0),
				UintOption(OptionURIPort, 5683),
				// large delta and value forcing extended nibbles
				{Number: 2000, Value: bytes.Repeat([]byte{9}, 300)},
			},
			[]byte("payload bytes"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region, err := oc.Encode(tt.opts, tt.payload)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			opts, payload, err := oc.Decode(region)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !bytes.Equal(payload, tt.payload) {
				t.Errorf("payload = %q, want %q", payload, tt.payload)
			}
			if len(opts) != len(tt.opts) {
				t.Fatalf("option count = %d, want %d", len(opts), len(tt.opts))
			}
			for i, want := range tt.opts {
				if opts[i].Number != want.Number || !bytes.Equal(opts[i].Value, want.Value) {
					t.Errorf("option %d = (%d, %v), want (%d, %v)",
						i, opts[i].Number, opts[i].Value, want.Number, want.Value)
				}
			}
		})
	}
}

func TestOptionCodec_DecodeMalformed(t *testing.T) {
	oc := DefaultOptionCodec()

	tests := []struct {
		name string
		data []byte
	}{
		{"marker without payload", []byte{0xff}},
		{"reserved delta nibble", []byte{0xf3, 0, 0, 0}},
		{"truncated extended delta", []byte{0xd0}},
		{"truncated value", []byte{0x23, 1}},
	}

	for _, tt := range tests {
		if _, _, err := oc.Decode(tt.data); err != ErrUnparsableMessage {
			t.Errorf("%s: err = %v, want ErrUnparsableMessage", tt.name, err)
		}
	}
}

func TestOptions_Get(t *testing.T) {
	opts := Options{
		UintOption(2, 42),
		StringOption(3, "host"),
	}

	if opt, ok := opts.Get(2); !ok || opt.Uint() != 42 {
		t.Errorf("Get(2) = (%v, %v)", opt, ok)
	}
	if _, ok := opts.Get(7); ok {
		t.Error("Get(7) found an absent option")
	}
}
