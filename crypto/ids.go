package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

const custodyPrefix = "custody:"

// PoolID derives a stable pool identifier from the admin and token when the
// caller does not name the pool explicitly.
func PoolID(admin, token string) string {
	return hashString("pool", admin, token)[:40]
}

// CustodyAddress returns the ledger account that holds a pool's staked
// principal and reward budget.
func CustodyAddress(poolID string) string {
	return custodyPrefix + hashString("custody", poolID)[:40]
}

// IsCustodyAddress reports whether addr is in the custody address space.
// Such accounts only move through the staking keeper.
func IsCustodyAddress(addr string) bool {
	return strings.HasPrefix(addr, custodyPrefix)
}

// hashString hashes length-prefixed parts so ("ab","c") and ("a","bc") differ.
func hashString(parts ...string) string {
	var buf []byte
	for _, p := range parts {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(p)))
		buf = append(buf, l[:]...)
		buf = append(buf, p...)
	}
	return hex.EncodeToString(HashBytes(buf))
}
