package game

// Button — имя кнопки игрового движка.
type Button string

const (
	ButtonMoveLeft         Button = "MOVE_LEFT"
	ButtonMoveForward      Button = "MOVE_FORWARD"
	ButtonMoveRight        Button = "MOVE_RIGHT"
	ButtonTurnLeft         Button = "TURN_LEFT"
	ButtonAttack           Button = "ATTACK"
	ButtonTurnRight        Button = "TURN_RIGHT"
	ButtonCrouch           Button = "CROUCH"
	ButtonMoveBackward     Button = "MOVE_BACKWARD"
	ButtonJump             Button = "JUMP"
	ButtonSelectPrevWeapon Button = "SELECT_PREV_WEAPON"
	ButtonUse              Button = "USE"
	ButtonSelectNextWeapon Button = "SELECT_NEXT_WEAPON"
)

// ButtonList — кнопки движка в фиксированном порядке; индекс кнопки в этом
// списке определяет ее позицию в векторе действия.
var ButtonList = []Button{
	ButtonMoveLeft, ButtonMoveForward, ButtonMoveRight,
	ButtonTurnLeft, ButtonAttack, ButtonTurnRight,
	ButtonCrouch, ButtonMoveBackward, ButtonJump,
	ButtonSelectPrevWeapon, ButtonUse, ButtonSelectNextWeapon,
}

// buttonIndex — раскладка телефонной клавиатуры: индекс в ButtonList по
// нажатой клавише. Раскладка повторяет физическое расположение клавиш:
// верхний ряд — движение, средний — повороты и атака, нижний — прочее.
var buttonIndex = map[string]int{
	"1": 0, "2": 1, "3": 2,
	"4": 3, "5": 4, "6": 5,
	"7": 6, "8": 7, "9": 8,
	"*": 9, "0": 10, "#": 11,
}

// ButtonNames возвращает имена кнопок для инициализации движка.
func ButtonNames() []string {
	names := make([]string, len(ButtonList))
	for i, b := range ButtonList {
		names[i] = string(b)
	}
	return names
}

// ButtonManager превращает дискретные нажатия DTMF в удержания кнопок:
// каждое нажатие удерживает кнопку holdTicks кадров.
type ButtonManager struct {
	holds []int
}

// NewButtonManager создает менеджер с отпущенными кнопками.
func NewButtonManager() *ButtonManager {
	return &ButtonManager{
		holds: make([]int, len(ButtonList)),
	}
}

// Press регистрирует нажатие клавиши digit с удержанием holdTicks кадров.
// Возвращает false, если клавиша не входит в раскладку.
func (m *ButtonManager) Press(digit string, holdTicks int) bool {
	idx, ok := buttonIndex[digit]
	if !ok {
		return false
	}
	m.holds[idx] = holdTicks
	return true
}

// Action уменьшает счетчики удержания на один кадр и возвращает вектор
// нажатых кнопок для движка.
func (m *ButtonManager) Action() []bool {
	action := make([]bool, len(m.holds))
	for i := range m.holds {
		if m.holds[i] > 0 {
			m.holds[i]--
		}
		action[i] = m.holds[i] > 0
	}
	return action
}
