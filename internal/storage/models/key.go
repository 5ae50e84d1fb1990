// internal/storage/models/key.go
package models

// PrivateKey хранит именованный кошелёк. Удаление логическое: запись
// остаётся, пока на неё ссылаются мониторы.
type PrivateKey struct {
	BaseModel
	Nickname  string `gorm:"not null;type:varchar(100)"`
	SecretKey string `gorm:"not null;type:text"`
	PublicKey string `gorm:"not null;type:varchar(44)"`
	Deleted   bool   `gorm:"default:false;index"`
}
