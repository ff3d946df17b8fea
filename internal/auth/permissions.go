package auth

// Role slugs seeded by the migrations.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Permission slugs seeded by the migrations.
const (
	PermCreateUser     = "CREATE_USER"
	PermReadAllUsers   = "READ_ALL_USERS"
	PermReadUserByID   = "READ_USER_BY_ID"
	PermUpdateUserByID = "UPDATE_USER_BY_ID"
	PermDeleteUserByID = "DELETE_USER_BY_ID"

	PermCreateTodo     = "CREATE_TODO"
	PermReadAllTodos   = "READ_ALL_TODOS"
	PermReadTodoByID   = "READ_TODO_BY_ID"
	PermUpdateTodoByID = "UPDATE_TODO_BY_ID"
	PermDeleteTodoByID = "DELETE_TODO_BY_ID"
)
