package guard

import (
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/dataset"
	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/schema"
)

func sampleDescription(t *testing.T) schema.Description {
	t.Helper()
	desc, err := schema.NewIntrospector(3).Describe(dataset.Sample(""))
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	return desc
}

func TestValidateAcceptsReadOnlyStatements(t *testing.T) {
	desc := sampleDescription(t)
	valid := []string{
		`SELECT AVG(Salary) AS avg_salary FROM uploaded_table`,
		`SELECT AVG("Salary") AS avg_salary FROM "uploaded_table";`,
		`select name, age from uploaded_table where age > 30 order by age desc limit 10`,
		`SELECT u.Name FROM uploaded_table AS u WHERE u.Salary > 60000`,
		`SELECT t.* FROM main.uploaded_table t`,
		`WITH rich AS (SELECT * FROM uploaded_table WHERE Salary > 70000) SELECT COUNT(*) AS n FROM rich`,
		`WITH RECURSIVE r(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM r WHERE n < 3) SELECT n FROM r`,
		`SELECT a.Name, b.Name FROM uploaded_table a JOIN uploaded_table b ON a.Age < b.Age`,
		`SELECT x.avg_age FROM (SELECT AVG(Age) AS avg_age FROM uploaded_table) x`,
		`SELECT EXTRACT(YEAR FROM CURRENT_DATE) AS y, Name FROM uploaded_table`,
		`SELECT Name FROM uploaded_table WHERE Name = 'DROP TABLE x; DELETE'`,
		`SELECT Name -- delete everything
		 FROM uploaded_table /* update */`,
		`(SELECT Name FROM uploaded_table) UNION (SELECT Name FROM uploaded_table)`,
		`SELECT r.range FROM range(3) r`,
		`SELECT Name FROM uploaded_table, range(2)`,
		`SELECT t.a FROM uploaded_table AS t(a, b, c, d)`,
		`SELECT t.x FROM uploaded_table t(x)`,
		`SELECT Salary AS load FROM uploaded_table`,
		`SELECT COUNT(*) AS set FROM uploaded_table`,
		`SELECT Name AS use, Age AS call, Salary AS reset FROM uploaded_table`,
		`FROM uploaded_table SELECT Name`,
		`FROM uploaded_table`,
		`SELECT q.n FROM (FROM uploaded_table SELECT Age AS n) q`,
	}
	for _, sql := range valid {
		if err := Validate(sql, desc); err != nil {
			t.Errorf("Validate(%q) error = %v", sql, err)
		}
	}
}

func TestValidateRejectsUnsafeStatements(t *testing.T) {
	desc := sampleDescription(t)
	unsafe := []string{
		``,
		`   ;  `,
		`DELETE FROM uploaded_table`,
		`DROP TABLE uploaded_table`,
		`INSERT INTO uploaded_table VALUES (6, 'Zed', 50, 1)`,
		`SELECT 1; DROP TABLE uploaded_table`,
		`SELECT * FROM uploaded_table; SELECT 2`,
		`WITH x AS (DELETE FROM uploaded_table RETURNING *) SELECT * FROM x`,
		`UPDATE uploaded_table SET Salary = 0`,
		`COPY uploaded_table TO 'out.csv'`,
		`ATTACH 'other.db'`,
		`PRAGMA database_list`,
		`SET memory_limit = '1GB'`,
		`SELECT * FROM read_csv('/etc/passwd')`,
		`SELECT * FROM 'secrets.parquet'`,
		`SELECT * FROM glob('*')`,
		`SELECT 'unterminated`,
		`SELECT 1 /* open`,
		`EXPLAIN SELECT 1`,
		`LOAD httpfs`,
		`CALL pragma_version()`,
		`WITH x AS (UPDATE uploaded_table SET Salary = 0 RETURNING *) SELECT * FROM x`,
		`FROM uploaded_table; DELETE FROM uploaded_table`,
	}
	for _, sql := range unsafe {
		err := Validate(sql, desc)
		if !failure.Is(err, failure.KindUnsafeStatement) {
			t.Errorf("Validate(%q) error = %v, want unsafe statement", sql, err)
		}
	}
}

func TestValidateRejectsUnknownSchema(t *testing.T) {
	desc := sampleDescription(t)
	unknown := []string{
		`SELECT * FROM employees`,
		`SELECT u.Bonus FROM uploaded_table u`,
		`SELECT uploaded_table.Bonus FROM uploaded_table`,
		`SELECT a.Name FROM uploaded_table a JOIN payroll p ON a.ID = p.ID`,
		`SELECT * FROM (SELECT * FROM staff) s`,
	}
	for _, sql := range unknown {
		err := Validate(sql, desc)
		if !failure.Is(err, failure.KindUnknownSchema) {
			t.Errorf("Validate(%q) error = %v, want unknown schema", sql, err)
		}
	}
}

func TestValidateRejectionNamesTheStatement(t *testing.T) {
	desc := sampleDescription(t)
	err := Validate(`SET memory_limit = '1GB'`, desc)
	if err == nil || !strings.Contains(err.Error(), "SET statements are not allowed") {
		t.Fatalf("Validate() error = %v", err)
	}
	err = Validate(`SELECT * FROM uploaded_table WHERE ID IN (DELETE FROM uploaded_table RETURNING ID)`, desc)
	if err == nil || !strings.Contains(err.Error(), "DELETE modifies data") {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestUnknownTableMessageListsTables(t *testing.T) {
	err := Validate(`SELECT * FROM employees`, sampleDescription(t))
	if err == nil || err.Error() != `unknown_schema: unknown table "employees"; available tables are uploaded_table` {
		t.Fatalf("Validate() error = %v", err)
	}
}
