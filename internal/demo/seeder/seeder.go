// Package seeder fills a MySQL or PostgreSQL database with a small ERP schema for demos.
package seeder

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const insertBatch = 100

const viewName = "vw_pedido_resumo"

type table struct {
	name    string
	columns []string
	ddl     string
}

// tables are created in order and dropped in reverse.
var tables = []table{
	{
		name:    "produto",
		columns: []string{"referencia", "descricao", "grupo", "preco", "estoque"},
		ddl: `CREATE TABLE IF NOT EXISTS produto (
	referencia VARCHAR(16) PRIMARY KEY,
	descricao VARCHAR(120) NOT NULL,
	grupo VARCHAR(40) NOT NULL,
	preco DECIMAL(12,2) NOT NULL,
	estoque INT NOT NULL
)`,
	},
	{
		name:    "pedido",
		columns: []string{"id", "data", "cliente", "referencia", "quantidade", "valor", "status"},
		ddl: `CREATE TABLE IF NOT EXISTS pedido (
	id INT PRIMARY KEY,
	data DATE NOT NULL,
	cliente VARCHAR(120) NOT NULL,
	referencia VARCHAR(16) NOT NULL,
	quantidade INT NOT NULL,
	valor DECIMAL(12,2) NOT NULL,
	status VARCHAR(16) NOT NULL
)`,
	},
	{
		name:    "notafiscal_saida",
		columns: []string{"numero", "emissao", "cliente", "cidade", "valor_nota"},
		ddl: `CREATE TABLE IF NOT EXISTS notafiscal_saida (
	numero INT PRIMARY KEY,
	emissao DATE NOT NULL,
	cliente VARCHAR(120) NOT NULL,
	cidade VARCHAR(80) NOT NULL,
	valor_nota DECIMAL(12,2) NOT NULL
)`,
	},
	{
		name:    "compra_entrada",
		columns: []string{"id", "data", "fornecedor", "referencia", "quantidade", "custo"},
		ddl: `CREATE TABLE IF NOT EXISTS compra_entrada (
	id INT PRIMARY KEY,
	data DATE NOT NULL,
	fornecedor VARCHAR(120) NOT NULL,
	referencia VARCHAR(16) NOT NULL,
	quantidade INT NOT NULL,
	custo DECIMAL(12,2) NOT NULL
)`,
	},
	{
		name:    "movimento_caixa",
		columns: []string{"id", "data", "tipo", "conta", "historico", "valor"},
		ddl: `CREATE TABLE IF NOT EXISTS movimento_caixa (
	id INT PRIMARY KEY,
	data DATE NOT NULL,
	tipo CHAR(1) NOT NULL,
	conta VARCHAR(20) NOT NULL,
	historico VARCHAR(160) NOT NULL,
	valor DECIMAL(12,2) NOT NULL
)`,
	},
}

const viewDDL = `CREATE OR REPLACE VIEW vw_pedido_resumo AS
SELECT p.referencia, pr.descricao, COUNT(*) AS pedidos, SUM(p.quantidade) AS quantidade, SUM(p.valor) AS valor
FROM pedido p JOIN produto pr ON pr.referencia = p.referencia
WHERE p.status <> 'cancelado'
GROUP BY p.referencia, pr.descricao`

type Summary struct {
	Rows     map[string]int
	Duration time.Duration
}

type Seeder struct {
	db     *sql.DB
	driver string
	log    *slog.Logger
}

// Open connects to cfg.DSN with the driver registered for cfg.Driver and pings it.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Seeder, error) {
	driverName := "mysql"
	if cfg.Driver == DriverPostgres {
		driverName = "pgx"
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return New(db, cfg.Driver, logger), nil
}

func New(db *sql.DB, driver string, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Seeder{db: db, driver: driver, log: logger}
}

func (s *Seeder) Close() error {
	return s.db.Close()
}

// Seed creates the schema and inserts ds. With reset the demo objects are dropped first,
// which makes repeated runs converge to the same contents.
func (s *Seeder) Seed(ctx context.Context, ds Dataset, reset bool) (Summary, error) {
	start := time.Now()
	if reset {
		if err := s.exec(ctx, "DROP VIEW IF EXISTS "+viewName); err != nil {
			return Summary{}, err
		}
		for i := len(tables) - 1; i >= 0; i-- {
			if err := s.exec(ctx, "DROP TABLE IF EXISTS "+tables[i].name); err != nil {
				return Summary{}, err
			}
		}
	}
	for _, t := range tables {
		if err := s.exec(ctx, t.ddl); err != nil {
			return Summary{}, err
		}
	}

	rows := map[string][][]any{
		"produto":          productRows(ds.Products),
		"pedido":           orderRows(ds.Orders),
		"notafiscal_saida": invoiceRows(ds.Invoices),
		"compra_entrada":   purchaseRows(ds.Purchases),
		"movimento_caixa":  cashRows(ds.CashMovements),
	}
	summary := Summary{Rows: map[string]int{}}
	for _, t := range tables {
		if err := s.insert(ctx, t, rows[t.name]); err != nil {
			return Summary{}, err
		}
		summary.Rows[t.name] = len(rows[t.name])
		s.log.InfoContext(ctx, "seeded demo table", slog.String("table", t.name), slog.Int("rows", len(rows[t.name])))
	}

	if err := s.exec(ctx, viewDDL); err != nil {
		return Summary{}, err
	}
	summary.Duration = time.Since(start)
	return summary, nil
}

func (s *Seeder) exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
	}
	return nil
}

func (s *Seeder) insert(ctx context.Context, t table, rows [][]any) error {
	for start := 0; start < len(rows); start += insertBatch {
		end := min(start+insertBatch, len(rows))
		stmt, args := s.insertStatement(t, rows[start:end])
		if err := s.exec(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) insertStatement(t table, rows [][]any) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", t.name, strings.Join(t.columns, ", "))
	args := make([]any, 0, len(rows)*len(t.columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, v)
			b.WriteString(s.placeholder(len(args)))
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func (s *Seeder) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func productRows(products []Product) [][]any {
	out := make([][]any, 0, len(products))
	for _, p := range products {
		out = append(out, []any{p.Referencia, p.Descricao, p.Grupo, p.Preco, p.Estoque})
	}
	return out
}

func orderRows(orders []Order) [][]any {
	out := make([][]any, 0, len(orders))
	for _, o := range orders {
		out = append(out, []any{o.ID, o.Data, o.Cliente, o.Referencia, o.Quantidade, o.Valor, o.Status})
	}
	return out
}

func invoiceRows(invoices []Invoice) [][]any {
	out := make([][]any, 0, len(invoices))
	for _, n := range invoices {
		out = append(out, []any{n.Numero, n.Emissao, n.Cliente, n.Cidade, n.ValorNota})
	}
	return out
}

func purchaseRows(purchases []Purchase) [][]any {
	out := make([][]any, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, []any{p.ID, p.Data, p.Fornecedor, p.Referencia, p.Quantidade, p.Custo})
	}
	return out
}

func cashRows(movements []CashMovement) [][]any {
	out := make([][]any, 0, len(movements))
	for _, m := range movements {
		out = append(out, []any{m.ID, m.Data, m.Tipo, m.Conta, m.Historico, m.Valor})
	}
	return out
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
