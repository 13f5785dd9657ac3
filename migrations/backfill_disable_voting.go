package migrations

import (
	"log"

	"gorm.io/gorm"
)

// poll 仅用于字段检查，避免引入models包造成循环依赖
type poll struct{}

func (poll) TableName() string { return "polls" }

// BackfillDisableVoting 为早期版本创建的投票补齐disable_voting列。
// AutoMigrate新增该列时默认NULL，旧行需要显式回填为false
func BackfillDisableVoting(db *gorm.DB) error {
	if !db.Migrator().HasColumn(&poll{}, "disable_voting") {
		// 列尚不存在时交给AutoMigrate创建，无需回填
		return nil
	}

	result := db.Exec("UPDATE polls SET disable_voting = ? WHERE disable_voting IS NULL", false)
	if result.Error != nil {
		log.Printf("回填disable_voting失败: %v", result.Error)
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("迁移完成: 已回填 %d 行disable_voting", result.RowsAffected)
	}
	return nil
}
