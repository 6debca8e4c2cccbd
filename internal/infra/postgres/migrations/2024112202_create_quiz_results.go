package migrations

func init() {
	Migrations.MustRegister(
		execFile("sql/0002_create_quiz_results.sql"),
		exec(`DROP TABLE IF EXISTS quiz_results`),
	)
}
