package pg

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uptrace/bun"

	"github.com/chainsafe/elements-duel/pkg/game"
	"github.com/chainsafe/elements-duel/pkg/vault"
)

// SecretDao is a data access object that maps directly to the 'secrets' table in PostgreSQL.
type SecretDao struct {
	bun.BaseModel  `bun:"table:secrets,alias:s"`
	GameID         int64     `bun:"game_id,pk"`
	Move           int16     `bun:"move,notnull"`
	Secret         string    `bun:"secret,notnull,type:text"`
	CommitmentHash string    `bun:"commitment_hash,notnull,type:varchar(66)"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func toSecretDao(s *vault.Secret) *SecretDao {
	return &SecretDao{
		GameID:         int64(s.GameID),
		Move:           int16(s.Move),
		Secret:         s.Secret,
		CommitmentHash: s.CommitmentHash.Hex(),
		CreatedAt:      s.CreatedAt,
	}
}

func toSecret(dao *SecretDao) *vault.Secret {
	return &vault.Secret{
		GameID:         uint64(dao.GameID),
		Move:           game.Move(dao.Move),
		Secret:         dao.Secret,
		CommitmentHash: common.HexToHash(dao.CommitmentHash),
		CreatedAt:      dao.CreatedAt,
	}
}
