package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/portfolio/internal/config"
	"github.com/portfolio/internal/db"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	seedCountries = []string{"CN", "US", "DE", "JP", "GB", "FR", ""}
	seedCities    = []string{"Shanghai", "Seattle", "Berlin", "Tokyo", "London", "Paris", ""}
	seedReferers  = []string{"https://github.com", "https://www.linkedin.com", "https://news.ycombinator.com", "https://www.google.com", ""}
	seedAgents    = []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148",
	}
)

// 测试数据生成器：为演示账号生成一段时间内的访问记录
func main() {
	days := flag.Int("days", 30, "number of past days to cover")
	visitors := flag.Int("visitors", 40, "distinct visitors to simulate")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("配置加载失败: %v", err)
	}

	// 初始化数据库
	if err := db.Init(cfg.Database); err != nil {
		logrus.Fatalf("数据库初始化失败: %v", err)
	}

	fmt.Println("开始生成测试数据...")

	owner, err := createTestOwner(db.DB)
	if err != nil {
		logrus.Fatalf("创建演示用户失败: %v", err)
	}

	n, err := createTestViews(db.DB, owner.ID, seedPlan{
		Days:     *days,
		Visitors: *visitors,
		Now:      time.Now().UTC(),
		Rand:     rand.New(rand.NewSource(*seed)),
	})
	if err != nil {
		logrus.Fatalf("生成访问记录失败: %v", err)
	}

	fmt.Println("测试数据生成完成！")
	fmt.Printf("用户: %s (密码: demo123)\n", owner.Username)
	fmt.Printf("访问记录: %d 条\n", n)
}

// 创建演示用户
func createTestOwner(gdb *gorm.DB) (db.User, error) {
	owner, _, err := db.EnsureOwner(gdb, "demo", "demo123")
	return owner, err
}

type seedPlan struct {
	Days     int
	Visitors int
	Now      time.Time
	Rand     *rand.Rand
}

// createTestViews 按天散布访客记录。同一访客在同一天内的多次访问间隔超过去重窗口，
// 另外每天插入一条所有者自己的访问。
func createTestViews(gdb *gorm.DB, ownerID uint, plan seedPlan) (int, error) {
	if plan.Days <= 0 || plan.Visitors <= 0 {
		return 0, nil
	}

	var views []db.PortfolioView
	for day := 0; day < plan.Days; day++ {
		dayStart := plan.Now.Truncate(24*time.Hour).AddDate(0, 0, -day)

		active := 1 + plan.Rand.Intn(plan.Visitors)
		for i := 0; i < active; i++ {
			visitor := plan.Rand.Intn(plan.Visitors)
			at := dayStart.Add(time.Duration(plan.Rand.Intn(20)) * time.Hour)
			visits := 1 + plan.Rand.Intn(2)
			for v := 0; v < visits; v++ {
				views = append(views, visitorView(ownerID, visitor, at.Add(time.Duration(v)*time.Hour), plan.Rand))
			}
		}

		views = append(views, db.PortfolioView{
			OwnerUserID: ownerID,
			IPAddress:   optional("127.0.0.1"),
			IsOwner:     true,
			CreatedAt:   dayStart.Add(23 * time.Hour),
		})
	}

	if err := gdb.CreateInBatches(views, 200).Error; err != nil {
		return 0, err
	}
	return len(views), nil
}

func visitorView(ownerID uint, visitor int, at time.Time, r *rand.Rand) db.PortfolioView {
	loc := visitor % len(seedCountries)
	view := db.PortfolioView{
		OwnerUserID: ownerID,
		IPAddress:   optional(fmt.Sprintf("198.51.100.%d", visitor%250+1)),
		Fingerprint: optional(fmt.Sprintf("seed-fp-%03d", visitor)),
		UserAgent:   optional(seedAgents[visitor%len(seedAgents)]),
		Referer:     optional(seedReferers[r.Intn(len(seedReferers))]),
		Country:     optional(seedCountries[loc]),
		City:        optional(seedCities[loc]),
		CreatedAt:   at,
	}
	// 部分访客禁用了指纹采集
	if visitor%5 == 0 {
		view.Fingerprint = nil
	}
	return view
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
