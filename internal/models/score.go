package models

// ScoreRecord 已保存的成绩
type ScoreRecord struct {
	BaseModel
	Score         int    `gorm:"not null;index" json:"score"`
	PlayerName    string `gorm:"size:100;not null" json:"player_name"`
	PlayerPicture []byte `json:"-"` // JPEG，未附照片时为空
	Timestamp     int64  `gorm:"not null;index" json:"timestamp"` // Unix 毫秒
}

// TableName 表名
func (ScoreRecord) TableName() string {
	return "score_records"
}

// HasPicture 是否附带照片
func (s *ScoreRecord) HasPicture() bool {
	return len(s.PlayerPicture) > 0
}

// AllModels 需要迁移的模型
func AllModels() []interface{} {
	return []interface{}{
		&ScoreRecord{},
	}
}
