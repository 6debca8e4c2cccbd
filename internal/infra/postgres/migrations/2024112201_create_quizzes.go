package migrations

func init() {
	Migrations.MustRegister(
		execFile("sql/0001_create_quizzes.sql"),
		exec(`DROP TABLE IF EXISTS quizzes`),
	)
}
