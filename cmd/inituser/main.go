package main

import (
	"flag"
	"fmt"

	"github.com/portfolio/internal/config"
	"github.com/portfolio/internal/db"
	"github.com/sirupsen/logrus"
)

func main() {
	username := flag.String("username", "admin", "portfolio owner username")
	password := flag.String("password", "", "portfolio owner password")
	flag.Parse()

	if *password == "" {
		logrus.Fatal("密码不能为空，请通过 -password 指定")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("配置加载失败: %v", err)
	}

	// 初始化数据库
	if err := db.Init(cfg.Database); err != nil {
		logrus.Fatalf("数据库初始化失败: %v", err)
	}

	owner, created, err := db.EnsureOwner(db.DB, *username, *password)
	if err != nil {
		logrus.Fatalf("创建用户失败: %v", err)
	}

	if created {
		fmt.Printf("用户 %s 已创建 (id=%d)\n", owner.Username, owner.ID)
		return
	}
	fmt.Printf("用户 %s 已存在，密码未修改\n", owner.Username)
}
