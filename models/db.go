package models

import (
	"log"
	"time"

	"StoryboardPro-server/config"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var GormDB *gorm.DB

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM 初始化失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层连接失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	GormDB = db
	log.Println("数据库连接成功")

	// 自动建表
	if err := db.AutoMigrate(&Project{}, &Shot{}, &ReferenceEntity{}, &Task{}); err != nil {
		log.Printf("自动建表失败: %v", err)
	}
}
