package view

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"

	"spacegame.io/internal/protocol"
)

// Digest hashes every entity in id order. Two caches with equal content have equal digests
// regardless of insertion order.
func (c *Cache) Digest() string {
	ids := make([]protocol.EntityID, 0, len(c.entities))
	for id := range c.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	h := sha256.New()
	var tmp [8]byte
	for _, id := range ids {
		e := c.entities[id]
		writeI64(h, &tmp, int64(id))
		h.Write([]byte{byte(e.Authority), boolByte(e.HasPlanet)})
		if !e.HasPlanet {
			continue
		}
		p := e.Planet
		writeString(h, &tmp, p.Name)
		writeString(h, &tmp, p.OwnerPlayerID)
		writeString(h, &tmp, p.Password)
		writeI64(h, &tmp, int64(p.MineLevel))
		writeF64(h, &tmp, p.Minerals)
		writeI64(h, &tmp, int64(p.DepositLevel))
		writeI64(h, &tmp, int64(p.ProbeCount))
		writeI64(h, &tmp, int64(p.HangarLevel))
		writeI64(h, &tmp, int64(p.NanobotLevel))
		h.Write([]byte{byte(p.BuildQueue)})
		writeF64(h, &tmp, p.BuildQueueRemainingSeconds)
		writeF64(h, &tmp, p.ReservedBuildMaterials)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeI64(h hash.Hash, tmp *[8]byte, v int64) {
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	h.Write(tmp[:])
}

func writeF64(h hash.Hash, tmp *[8]byte, v float64) {
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	h.Write(tmp[:])
}

func writeString(h hash.Hash, tmp *[8]byte, s string) {
	writeI64(h, tmp, int64(len(s)))
	h.Write([]byte(s))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
