package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

const stakeAccountLen = 8 + 32 + 32 + 8 + 8

// DecodeStakeAccount parses a stake record: 8-byte account discriminator,
// owner, mint, amount (u64), unlockTs (i64 seconds).
func DecodeStakeAccount(addr domain.PublicKey, data []byte) (domain.StakeAccount, error) {
	if len(data) < stakeAccountLen {
		return domain.StakeAccount{}, fmt.Errorf("ledger: %w: stake account is %d bytes", domain.ErrMalformedPayload, len(data))
	}
	var s domain.StakeAccount
	s.Address = addr
	copy(s.Owner[:], data[8:40])
	copy(s.Mint[:], data[40:72])
	s.Amount = binary.LittleEndian.Uint64(data[72:80])
	s.UnlockTs = int64(binary.LittleEndian.Uint64(data[80:88]))
	return s, nil
}

// EncodeStakeAccount is the inverse of DecodeStakeAccount.
func EncodeStakeAccount(s domain.StakeAccount) []byte {
	buf := make([]byte, 8, stakeAccountLen)
	disc := accountDiscriminator("StakeAccount")
	copy(buf, disc)
	buf = append(buf, s.Owner[:]...)
	buf = append(buf, s.Mint[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, s.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.UnlockTs))
	return buf
}
