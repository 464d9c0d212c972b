package lending

import (
	"fmt"
	"strings"

	"creditrail/crypto"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	reserveKeyPrefix    = []byte("lending/reserve/")
	obligationKeyPrefix = []byte("lending/obligation/")
	borrowerKeyPrefix   = []byte("lending/borrower/")
	lenderKeyPrefix     = []byte("lending/lender/")
	riskModelKeyPrefix  = []byte("lending/riskmodel/")
	accountKeyPrefix    = []byte("ledger/account/")
)

// DeriveEntityKey maps (entity type, owner, discriminator) to a stable
// 32-byte lookup key. Pure function; the storage layer is free to prefix the
// result however it likes.
func DeriveEntityKey(entityType string, owner []byte, discriminator []byte) [32]byte {
	hash := ethcrypto.Keccak256Hash([]byte(strings.TrimSpace(entityType)), owner, discriminator)
	var key [32]byte
	copy(key[:], hash.Bytes())
	return key
}

// ReserveKey addresses a reserve by pool identifier.
func ReserveKey(poolID string) []byte {
	return []byte(fmt.Sprintf("%s%s", reserveKeyPrefix, strings.TrimSpace(poolID)))
}

// ObligationKey addresses a loan obligation by its derived identifier.
func ObligationKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", obligationKeyPrefix, id))
}

// BorrowerKey addresses a borrower profile.
func BorrowerKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", borrowerKeyPrefix, addr.Bytes()))
}

// LenderKey addresses a lender profile.
func LenderKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", lenderKeyPrefix, addr.Bytes()))
}

// RiskModelKey addresses a risk model by identifier.
func RiskModelKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", riskModelKeyPrefix, strings.TrimSpace(id)))
}

// AccountKey addresses a ledger account.
func AccountKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", accountKeyPrefix, addr.Bytes()))
}
