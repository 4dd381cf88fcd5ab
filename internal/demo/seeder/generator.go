package seeder

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/jaswdr/faker"
)

type Product struct {
	Referencia string
	Descricao  string
	Grupo      string
	Preco      float64
	Estoque    int
}

type Order struct {
	ID         int
	Data       time.Time
	Cliente    string
	Referencia string
	Quantidade int
	Valor      float64
	Status     string
}

type Invoice struct {
	Numero    int
	Emissao   time.Time
	Cliente   string
	Cidade    string
	ValorNota float64
}

type Purchase struct {
	ID         int
	Data       time.Time
	Fornecedor string
	Referencia string
	Quantidade int
	Custo      float64
}

// CashMovement is one entry of the cash book. Tipo is "E" for inflow and "S" for outflow.
type CashMovement struct {
	ID        int
	Data      time.Time
	Tipo      string
	Conta     string
	Historico string
	Valor     float64
}

type Dataset struct {
	Products      []Product
	Orders        []Order
	Invoices      []Invoice
	Purchases     []Purchase
	CashMovements []CashMovement
}

// Generator produces a reproducible ERP dataset: the same seed and reference date give the
// same rows.
type Generator struct {
	rnd   *rand.Rand
	fake  faker.Faker
	today time.Time
}

func NewGenerator(seed int64, today time.Time) *Generator {
	y, m, d := today.UTC().Date()
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		fake:  faker.NewWithSeed(rand.NewSource(seed)),
		today: time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
	}
}

func (g *Generator) Generate(cfg Config) Dataset {
	ds := Dataset{Products: make([]Product, 0, cfg.Products)}
	groups := []string{"papelaria", "informatica", "limpeza", "alimentos", "ferramentas"}
	for i := 1; i <= cfg.Products; i++ {
		ds.Products = append(ds.Products, Product{
			Referencia: fmt.Sprintf("P%04d", i),
			Descricao:  capitalize(g.fake.Lorem().Word() + " " + g.fake.Lorem().Word()),
			Grupo:      pickOne(g.rnd, groups),
			Preco:      round2(2 + g.rnd.Float64()*498),
			Estoque:    g.rnd.Intn(500),
		})
	}

	customers := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		customers = append(customers, g.fake.Company().Name())
	}
	suppliers := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		suppliers = append(suppliers, g.fake.Company().Name())
	}

	statuses := []string{"aberto", "faturado", "faturado", "faturado", "cancelado"}
	for i := 1; i <= cfg.Orders; i++ {
		product := ds.Products[g.rnd.Intn(len(ds.Products))]
		qty := 1 + g.rnd.Intn(20)
		ds.Orders = append(ds.Orders, Order{
			ID:         i,
			Data:       g.day(cfg.Days),
			Cliente:    pickOne(g.rnd, customers),
			Referencia: product.Referencia,
			Quantidade: qty,
			Valor:      round2(product.Preco * float64(qty)),
			Status:     pickOne(g.rnd, statuses),
		})
	}

	for i := 1; i <= cfg.Invoices; i++ {
		ds.Invoices = append(ds.Invoices, Invoice{
			Numero:    1000 + i,
			Emissao:   g.day(cfg.Days),
			Cliente:   pickOne(g.rnd, customers),
			Cidade:    g.fake.Address().City(),
			ValorNota: round2(50 + g.rnd.Float64()*4950),
		})
	}

	for i := 1; i <= cfg.Purchases; i++ {
		product := ds.Products[g.rnd.Intn(len(ds.Products))]
		qty := 10 + g.rnd.Intn(90)
		ds.Purchases = append(ds.Purchases, Purchase{
			ID:         i,
			Data:       g.day(cfg.Days),
			Fornecedor: pickOne(g.rnd, suppliers),
			Referencia: product.Referencia,
			Quantidade: qty,
			Custo:      round2(product.Preco * 0.6 * float64(qty)),
		})
	}

	accounts := []string{"caixa", "banco"}
	for i := 1; i <= cfg.CashMovements; i++ {
		tipo := "E"
		historico := "recebimento " + pickOne(g.rnd, customers)
		if g.rnd.Intn(100) < 40 {
			tipo = "S"
			historico = "pagamento " + pickOne(g.rnd, suppliers)
		}
		ds.CashMovements = append(ds.CashMovements, CashMovement{
			ID:        i,
			Data:      g.day(cfg.Days),
			Tipo:      tipo,
			Conta:     pickOne(g.rnd, accounts),
			Historico: historico,
			Valor:     round2(10 + g.rnd.Float64()*2990),
		})
	}
	return ds
}

// day returns a date within the last days days, today included.
func (g *Generator) day(days int) time.Time {
	return g.today.AddDate(0, 0, -g.rnd.Intn(days))
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
