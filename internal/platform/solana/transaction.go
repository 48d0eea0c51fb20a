package solana

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// AccountMeta is one account reference of an instruction.
type AccountMeta struct {
	PublicKey  domain.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Writable returns a writable, non-signer meta.
func Writable(pk domain.PublicKey) AccountMeta { return AccountMeta{PublicKey: pk, IsWritable: true} }

// Readonly returns a read-only, non-signer meta.
func Readonly(pk domain.PublicKey) AccountMeta { return AccountMeta{PublicKey: pk} }

// Signer returns a writable signer meta.
func Signer(pk domain.PublicKey) AccountMeta {
	return AccountMeta{PublicKey: pk, IsSigner: true, IsWritable: true}
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID domain.PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// SetComputeUnitLimit builds the compute budget instruction that raises the
// transaction's compute unit ceiling.
func SetComputeUnitLimit(units uint32) (Instruction, error) {
	program, err := domain.PublicKeyFromBase58(ComputeBudgetProgramID)
	if err != nil {
		return Instruction{}, err
	}
	data := binary.LittleEndian.AppendUint32([]byte{2}, units)
	return Instruction{ProgramID: program, Data: data}, nil
}

// Message is a compiled legacy message.
type Message struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
	AccountKeys                 []domain.PublicKey
	RecentBlockhash             [32]byte
	Instructions                []compiledInstruction
}

type compiledInstruction struct {
	programIndex uint8
	accounts     []uint8
	data         []byte
}

// CompileMessage orders accounts as writable signers, read-only signers,
// writable non-signers, read-only non-signers, with payer first.
func CompileMessage(payer domain.PublicKey, blockhash [32]byte, ixs []Instruction) (Message, error) {
	if len(ixs) == 0 {
		return Message{}, errors.New("solana: transaction has no instructions")
	}

	type entry struct {
		meta  AccountMeta
		order int
	}
	merged := map[domain.PublicKey]*entry{}
	var order []domain.PublicKey
	add := func(m AccountMeta) {
		if e, ok := merged[m.PublicKey]; ok {
			e.meta.IsSigner = e.meta.IsSigner || m.IsSigner
			e.meta.IsWritable = e.meta.IsWritable || m.IsWritable
			return
		}
		merged[m.PublicKey] = &entry{meta: m, order: len(order)}
		order = append(order, m.PublicKey)
	}

	add(Signer(payer))
	for _, ix := range ixs {
		for _, a := range ix.Accounts {
			add(a)
		}
		add(Readonly(ix.ProgramID))
	}

	var groups [4][]domain.PublicKey
	for _, pk := range order {
		m := merged[pk].meta
		switch {
		case m.IsSigner && m.IsWritable:
			groups[0] = append(groups[0], pk)
		case m.IsSigner:
			groups[1] = append(groups[1], pk)
		case m.IsWritable:
			groups[2] = append(groups[2], pk)
		default:
			groups[3] = append(groups[3], pk)
		}
	}

	msg := Message{
		NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
		NumReadonlySignedAccounts:   uint8(len(groups[1])),
		NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		RecentBlockhash:             blockhash,
	}
	for _, g := range groups {
		msg.AccountKeys = append(msg.AccountKeys, g...)
	}
	if len(msg.AccountKeys) > 255 {
		return Message{}, fmt.Errorf("solana: %d accounts exceeds 255", len(msg.AccountKeys))
	}

	index := make(map[domain.PublicKey]uint8, len(msg.AccountKeys))
	for i, pk := range msg.AccountKeys {
		index[pk] = uint8(i)
	}
	for _, ix := range ixs {
		ci := compiledInstruction{programIndex: index[ix.ProgramID], data: ix.Data}
		for _, a := range ix.Accounts {
			ci.accounts = append(ci.accounts, index[a.PublicKey])
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Signers returns the keys that must sign, in signature order.
func (m Message) Signers() []domain.PublicKey {
	return m.AccountKeys[:m.NumRequiredSignatures]
}

// Serialize returns the message bytes that signatures cover.
func (m Message) Serialize() []byte {
	buf := []byte{m.NumRequiredSignatures, m.NumReadonlySignedAccounts, m.NumReadonlyUnsignedAccounts}
	buf = appendCompactU16(buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendCompactU16(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.programIndex)
		buf = appendCompactU16(buf, len(ix.accounts))
		buf = append(buf, ix.accounts...)
		buf = appendCompactU16(buf, len(ix.data))
		buf = append(buf, ix.data...)
	}
	return buf
}

// TxSigner signs message bytes for one key.
type TxSigner interface {
	PublicKey() domain.PublicKey
	Sign(msg []byte) []byte
}

// SignTransaction signs msg with every required signer and returns the wire
// transaction.
func SignTransaction(msg Message, signers ...TxSigner) ([]byte, error) {
	byKey := make(map[domain.PublicKey]TxSigner, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}
	payload := msg.Serialize()

	out := appendCompactU16(nil, int(msg.NumRequiredSignatures))
	for _, pk := range msg.Signers() {
		s, ok := byKey[pk]
		if !ok {
			return nil, fmt.Errorf("solana: missing signer %s", pk)
		}
		out = append(out, s.Sign(payload)...)
	}
	return append(out, payload...), nil
}

// FirstSignature returns the transaction id of a signed wire transaction.
func FirstSignature(tx []byte) ([]byte, error) {
	n, off, err := readCompactU16(tx)
	if err != nil {
		return nil, err
	}
	if n == 0 || len(tx) < off+64 {
		return nil, errors.New("solana: transaction carries no signature")
	}
	return tx[off : off+64], nil
}

func appendCompactU16(buf []byte, n int) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

func readCompactU16(buf []byte) (int, int, error) {
	n := 0
	for i := 0; i < 3; i++ {
		if i >= len(buf) {
			return 0, 0, errors.New("solana: truncated compact-u16")
		}
		n |= int(buf[i]&0x7f) << (7 * i)
		if buf[i]&0x80 == 0 {
			return n, i + 1, nil
		}
	}
	return 0, 0, errors.New("solana: compact-u16 too long")
}
