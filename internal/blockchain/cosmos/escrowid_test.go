package cosmos

import (
	"bytes"
	"encoding/hex"
	"testing"

	"atomicswap/internal/hashlock"
)

func testAddress(t *testing.T, fill byte) string {
	t.Helper()
	addr, err := encodeAddress("cosmos", bytes.Repeat([]byte{fill}, 20))
	if err != nil {
		t.Fatalf("encodeAddress() error = %v", err)
	}
	return addr
}

func testHashlock(fill byte) hashlock.Hash {
	var s hashlock.Secret
	for i := range s {
		s[i] = fill
	}
	return hashlock.Digest(s)
}

func TestComputeEscrowID(t *testing.T) {
	contract := testAddress(t, 0x0c)
	creator := testAddress(t, 0x01)

	tests := []struct {
		name     string
		contract string
		creator  string
		hashlock hashlock.Hash
		timelock int64
		wantErr  bool
		errMsg   string
	}{
		{
			name:     "valid inputs",
			contract: contract,
			creator:  creator,
			hashlock: testHashlock(1),
			timelock: 1_700_000_000,
		},
		{
			name:     "empty contract",
			creator:  creator,
			hashlock: testHashlock(1),
			timelock: 1_700_000_000,
			wantErr:  true,
			errMsg:   "contract address cannot be empty",
		},
		{
			name:     "empty creator",
			contract: contract,
			hashlock: testHashlock(1),
			timelock: 1_700_000_000,
			wantErr:  true,
			errMsg:   "creator address cannot be empty",
		},
		{
			name:     "empty hashlock",
			contract: contract,
			creator:  creator,
			timelock: 1_700_000_000,
			wantErr:  true,
			errMsg:   "hashlock cannot be empty",
		},
		{
			name:     "zero timelock",
			contract: contract,
			creator:  creator,
			hashlock: testHashlock(1),
			wantErr:  true,
			errMsg:   "timelock must be positive",
		},
		{
			name:     "invalid bech32 creator",
			contract: contract,
			creator:  "invalid_address",
			hashlock: testHashlock(1),
			timelock: 1_700_000_000,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ComputeEscrowID(tt.contract, tt.creator, tt.hashlock, tt.timelock)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ComputeEscrowID() expected error but got none")
					return
				}
				if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("ComputeEscrowID() error = %v, want %v", err.Error(), tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Errorf("ComputeEscrowID() unexpected error = %v", err)
				return
			}

			raw, err := hex.DecodeString(id)
			if err != nil {
				t.Errorf("ComputeEscrowID() returned non-hex id %q", id)
				return
			}
			if len(raw) != 32 {
				t.Errorf("ComputeEscrowID() id length = %d bytes, want 32", len(raw))
			}
		})
	}
}

func TestComputeEscrowIDUniqueness(t *testing.T) {
	contract := testAddress(t, 0x0c)
	creator := testAddress(t, 0x01)

	base, err := ComputeEscrowID(contract, creator, testHashlock(1), 1_700_000_000)
	if err != nil {
		t.Fatalf("ComputeEscrowID() error = %v", err)
	}

	again, err := ComputeEscrowID(contract, creator, testHashlock(1), 1_700_000_000)
	if err != nil {
		t.Fatalf("ComputeEscrowID() error = %v", err)
	}
	if base != again {
		t.Errorf("ComputeEscrowID() not deterministic: %v != %v", base, again)
	}

	variants := map[string][]interface{}{
		"different contract": {testAddress(t, 0x0d), creator, testHashlock(1), int64(1_700_000_000)},
		"different creator":  {contract, testAddress(t, 0x02), testHashlock(1), int64(1_700_000_000)},
		"different hashlock": {contract, creator, testHashlock(2), int64(1_700_000_000)},
		"different timelock": {contract, creator, testHashlock(1), int64(1_700_000_001)},
	}
	for name, args := range variants {
		id, err := ComputeEscrowID(args[0].(string), args[1].(string), args[2].(hashlock.Hash), args[3].(int64))
		if err != nil {
			t.Fatalf("%s: ComputeEscrowID() error = %v", name, err)
		}
		if id == base {
			t.Errorf("%s: ComputeEscrowID() returned the same id", name)
		}
	}
}

func TestVerifyEscrowID(t *testing.T) {
	contract := testAddress(t, 0x0c)
	creator := testAddress(t, 0x01)

	expected, err := ComputeEscrowID(contract, creator, testHashlock(1), 1_700_000_000)
	if err != nil {
		t.Fatalf("ComputeEscrowID() error = %v", err)
	}

	tests := []struct {
		name     string
		escrowID string
		timelock int64
		want     bool
		wantErr  bool
	}{
		{name: "matching id", escrowID: expected, timelock: 1_700_000_000, want: true},
		{name: "wrong id", escrowID: "00", timelock: 1_700_000_000, want: false},
		{name: "invalid inputs", escrowID: expected, timelock: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VerifyEscrowID(tt.escrowID, contract, creator, testHashlock(1), tt.timelock)

			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyEscrowID() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("VerifyEscrowID() = %v, want %v", got, tt.want)
			}
		})
	}
}
